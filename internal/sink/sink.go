// Package sink defines the abstract push point for emitted wall events
// and a bounded, backpressure-isolating dispatcher so a slow sink can
// never stall the ingestion loop.
package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wallwatch/wallwatch/internal/events"
)

// Sink is the single operation every alert destination implements.
// Failures are the sink's own problem: Deliver reports them so the
// dispatcher can log and count, but they never propagate back into the
// ingestion loop.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev events.Event) error
}

// QueuedSink wraps a Sink with a bounded, per-sink delivery queue
// dispatched on its own goroutine, matching the concurrency model's
// "sink delivery MAY be dispatched to a separate task... bounded
// per-sink queue; when the queue is full, the oldest event is dropped
// and a drop-counter is incremented."
type QueuedSink struct {
	sink   Sink
	logger *zap.Logger
	queue  chan events.Event

	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	running bool
}

// NewQueuedSink wraps sink with a queue of the given capacity.
func NewQueuedSink(sink Sink, capacity int, logger *zap.Logger) *QueuedSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &QueuedSink{
		sink:   sink,
		logger: logger.With(zap.String("sink", sink.Name())),
		queue:  make(chan events.Event, capacity),
	}
}

// Run drains the queue until ctx is cancelled. It must be started once
// per QueuedSink, typically in its own goroutine.
func (q *QueuedSink) Run(ctx context.Context) {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.queue:
			if err := q.sink.Deliver(ctx, ev); err != nil {
				q.failed.Add(1)
				q.logger.Warn("sink delivery failed", zap.Error(err), zap.String("kind", string(ev.GetKind())))
				continue
			}
			q.delivered.Add(1)
		}
	}
}

// Push enqueues ev for delivery. If the queue is full, the oldest
// queued event is dropped to make room and the drop counter is
// incremented — Push itself never blocks the caller.
func (q *QueuedSink) Push(ev events.Event) {
	select {
	case q.queue <- ev:
		return
	default:
	}

	select {
	case <-q.queue:
		q.dropped.Add(1)
	default:
	}

	select {
	case q.queue <- ev:
	default:
		q.dropped.Add(1)
	}
}

// Stats is a snapshot of delivery counters for the status surface.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
	Depth     int
}

// Name returns the wrapped sink's name, for status reporting.
func (q *QueuedSink) Name() string {
	return q.sink.Name()
}

// Stats returns a copy of the current delivery counters.
func (q *QueuedSink) Stats() Stats {
	return Stats{
		Delivered: q.delivered.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Depth:     len(q.queue),
	}
}
