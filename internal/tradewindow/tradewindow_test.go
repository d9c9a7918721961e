package tradewindow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestVolumeAtPriceWithinWindow(t *testing.T) {
	w := New(0)

	w.Record(Trade{Price: dec("100.00"), Quantity: 10, Side: SideBuyer, Timestamp: 0})
	w.Record(Trade{Price: dec("100.00"), Quantity: 5, Side: SideSeller, Timestamp: int64(1 * 1e9)})
	w.Record(Trade{Price: dec("99.00"), Quantity: 7, Side: SideBuyer, Timestamp: int64(2 * 1e9)})

	now := int64(3 * 1e9)
	if got := w.VolumeAtPrice(now, dec("100.00"), 5); got != 15 {
		t.Fatalf("expected volume 15 at 100.00 within 5s window, got %d", got)
	}
}

func TestVolumeAtPriceTrimsOldEntries(t *testing.T) {
	w := New(0)

	w.Record(Trade{Price: dec("100.00"), Quantity: 10, Side: SideBuyer, Timestamp: 0})
	now := int64(10 * 1e9)

	if got := w.VolumeAtPrice(now, dec("100.00"), 3); got != 0 {
		t.Fatalf("expected 0 after trade aged out of window, got %d", got)
	}
	if w.Len() != 0 {
		t.Fatalf("expected aged-out entry to be trimmed, len=%d", w.Len())
	}
}

func TestAnyVolumeInWindow(t *testing.T) {
	w := New(0)

	w.Record(Trade{Price: dec("100.00"), Quantity: 10, Side: SideBuyer, Timestamp: 0})
	w.Record(Trade{Price: dec("101.00"), Quantity: 3, Side: SideSeller, Timestamp: int64(1 * 1e9)})

	now := int64(2 * 1e9)
	if got := w.AnyVolumeInWindow(now, 5); got != 13 {
		t.Fatalf("expected total volume 13, got %d", got)
	}
}

func TestRecordCapacityHintBounds(t *testing.T) {
	w := New(2)

	for i := 0; i < 5; i++ {
		w.Record(Trade{Price: dec("100.00"), Quantity: 1, Side: SideBuyer, Timestamp: int64(i) * int64(1e9)})
	}

	if w.Len() > 2 {
		t.Fatalf("expected capacity hint to bound retained entries, len=%d", w.Len())
	}
}
