package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallwatch/wallwatch/internal/events"
)

type fakeSink struct {
	name      string
	delivered atomic.Int64
	blockCh   chan struct{}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(ctx context.Context, ev events.Event) error {
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.delivered.Add(1)
	return nil
}

func sampleEvent() events.Event {
	return events.WallCandidate{
		Symbol: "BTC-USD",
		Side:   events.SideAsk,
		Price:  decimal.NewFromFloat(100.03),
		At:     time.Unix(0, 0),
	}
}

func TestQueuedSinkDeliversAllQueuedEvents(t *testing.T) {
	fs := &fakeSink{name: "fake"}
	qs := NewQueuedSink(fs, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go qs.Run(ctx)

	for i := 0; i < 5; i++ {
		qs.Push(sampleEvent())
	}

	deadline := time.After(time.Second)
	for fs.delivered.Load() < 5 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for delivery, got %d/5", fs.delivered.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	stats := qs.Stats()
	if stats.Delivered != 5 {
		t.Fatalf("expected 5 delivered, got %d", stats.Delivered)
	}
	if stats.Dropped != 0 {
		t.Fatalf("expected 0 dropped, got %d", stats.Dropped)
	}
}

func TestQueuedSinkDropsOldestWhenFull(t *testing.T) {
	block := make(chan struct{})
	fs := &fakeSink{name: "fake", blockCh: block}
	qs := NewQueuedSink(fs, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		qs.Run(ctx)
	}()

	// Run's single worker will pull the first event and block on Deliver,
	// so pushing past capacity forces a drop rather than blocking Push.
	qs.Push(sampleEvent())
	time.Sleep(20 * time.Millisecond) // let Run claim the first event
	qs.Push(sampleEvent())
	qs.Push(sampleEvent())
	qs.Push(sampleEvent())

	close(block)
	time.Sleep(20 * time.Millisecond) // let Run drain the remaining queued events
	cancel()
	wg.Wait()

	stats := qs.Stats()
	if stats.Dropped == 0 {
		t.Fatalf("expected at least one drop once the queue filled up, stats=%+v", stats)
	}
}

func TestQueuedSinkPushNeverBlocks(t *testing.T) {
	fs := &fakeSink{name: "fake", blockCh: make(chan struct{})} // never closed: Deliver never returns
	qs := NewQueuedSink(fs, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go qs.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			qs.Push(sampleEvent())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Push blocked despite a full queue and a stuck delivery")
	}
}
