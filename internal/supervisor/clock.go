package supervisor

import (
	"time"

	"github.com/wallwatch/wallwatch/internal/walldetector"
)

// clock produces walldetector.Now values anchored to a fixed start
// instant so Mono is a monotonically increasing nanosecond count
// robust against wall-clock adjustments, per the design note that
// every dwell/window/cooldown computation must use a monotonic source.
type clock struct {
	start time.Time
}

func newClock() clock {
	return clock{start: time.Now()}
}

func (c clock) now() walldetector.Now {
	wall := time.Now()
	return walldetector.Now{Mono: int64(wall.Sub(c.start)), Wall: wall}
}
