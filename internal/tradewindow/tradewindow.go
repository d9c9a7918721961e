// Package tradewindow answers "how much volume executed at price P in
// the last W seconds" from the trade tape. It keeps a slice of trades
// that the query methods trim against the requested window; inserts
// trim only against the optional capacity hint, so with no hint the
// slice grows between queries.
package tradewindow

import (
	"github.com/shopspring/decimal"
)

// Side mirrors the aggressor side of a trade print.
type Side string

const (
	SideBuyer  Side = "buyer"
	SideSeller Side = "seller"
)

// Trade is one executed print on the tape.
type Trade struct {
	Price     decimal.Decimal
	Quantity  int64
	Side      Side
	Timestamp int64 // monotonic nanoseconds
}

type entry struct {
	ts       int64
	price    decimal.Decimal
	quantity int64
}

// Window is a rolling, time-bounded aggregator of executed volume keyed
// by price. Prices compare bit-exact via decimal.Decimal's internal
// scaled-integer representation, avoiding floating-point equality
// pitfalls per the trade-window precision note.
type Window struct {
	entries []entry
	cap     int
}

// New creates a trade window. capacityHint bounds the number of
// entries retained as a defensive backstop (2x expected trim count is
// a reasonable hint); zero means unbounded aside from time-trimming.
func New(capacityHint int) *Window {
	return &Window{cap: capacityHint}
}

// Record appends a trade. It does not trim by time (the window of
// interest is not known here); it only drops the oldest entries beyond
// the capacity hint. Time-based trimming happens lazily in the query
// methods against the requested windowSeconds.
func (w *Window) Record(t Trade) {
	w.entries = append(w.entries, entry{ts: t.Timestamp, price: t.Price, quantity: t.Quantity})
	if w.cap > 0 && len(w.entries) > w.cap {
		w.entries = w.entries[len(w.entries)-w.cap:]
	}
}

// trim drops entries older than now - windowSeconds, mutating in place.
func (w *Window) trim(now int64, windowSeconds float64) {
	cutoff := now - int64(windowSeconds*1e9)
	i := 0
	for i < len(w.entries) && w.entries[i].ts < cutoff {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}

// VolumeAtPrice sums quantities traded at exactly price within the
// last windowSeconds before now.
func (w *Window) VolumeAtPrice(now int64, price decimal.Decimal, windowSeconds float64) int64 {
	w.trim(now, windowSeconds)
	var total int64
	for _, e := range w.entries {
		if e.price.Equal(price) {
			total += e.quantity
		}
	}
	return total
}

// AnyVolumeInWindow sums all quantities traded within the last
// windowSeconds before now, used for "market is active" heuristics.
func (w *Window) AnyVolumeInWindow(now int64, windowSeconds float64) int64 {
	w.trim(now, windowSeconds)
	var total int64
	for _, e := range w.entries {
		total += e.quantity
	}
	return total
}

// Len reports the current number of retained entries (post last trim).
func (w *Window) Len() int {
	return len(w.entries)
}
