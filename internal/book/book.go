// Package book models an immutable snapshot of one side of a depth
// book and the quick statistics the wall detector needs from it: median
// resting quantity, tick distance from best, and level lookup. A full
// sort is acceptable because depth is bounded (<=50 levels typically).
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wallwatch/wallwatch/internal/events"
)

// PriceLevel is a single resting level: a price and its quantity in lots.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity int64
}

// Snapshot is an immutable full top-N snapshot of both sides of a book
// for one instrument, as received from the transport. Per SPEC_FULL.md's
// open-question decision, depth frames are always full snapshots, never
// incremental deltas.
type Snapshot struct {
	Symbol       string
	InstrumentID string
	TickSize     decimal.Decimal
	Bids         []PriceLevel // descending price
	Asks         []PriceLevel // ascending price
	Depth        int
	ReceivedAt   int64 // monotonic nanoseconds
}

// levels returns the requested side, nil if empty.
func (s Snapshot) levels(side events.Side) []PriceLevel {
	if side == events.SideBid {
		return s.Bids
	}
	return s.Asks
}

// BestPrice returns the best (highest bid / lowest ask) price on a side
// and whether that side has any levels at all.
func (s Snapshot) BestPrice(side events.Side) (decimal.Decimal, bool) {
	levels := s.levels(side)
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	return levels[0].Price, true
}

// FindLevel returns the resting quantity at price on side, or zero if
// the price is absent from the snapshot.
func (s Snapshot) FindLevel(side events.Side, price decimal.Decimal) int64 {
	for _, lvl := range s.levels(side) {
		if lvl.Price.Equal(price) {
			return lvl.Quantity
		}
	}
	return 0
}

// MedianQuantity returns the median quantity of the top-N levels on
// side (N = topN). With fewer than two levels present it returns the
// only present quantity, or zero if the side is empty.
func (s Snapshot) MedianQuantity(side events.Side, topN int) int64 {
	levels := s.levels(side)
	if topN > len(levels) {
		topN = len(levels)
	}
	if topN == 0 {
		return 0
	}
	if topN == 1 {
		return levels[0].Quantity
	}

	qty := make([]int64, topN)
	for i := 0; i < topN; i++ {
		qty[i] = levels[i].Quantity
	}
	sort.Slice(qty, func(i, j int) bool { return qty[i] < qty[j] })

	mid := len(qty) / 2
	if len(qty)%2 == 1 {
		return qty[mid]
	}
	return (qty[mid-1] + qty[mid]) / 2
}

// DistanceTicks returns the number of ticks from best_price(side) to
// price. Bid-side distance increases downward (lower price); ask-side
// distance increases upward (higher price). The second return is false
// if price sits on the wrong side of best, or tickSize is non-positive.
func (s Snapshot) DistanceTicks(side events.Side, price decimal.Decimal) (int64, bool) {
	best, ok := s.BestPrice(side)
	if !ok || s.TickSize.Sign() <= 0 {
		return 0, false
	}

	var diff decimal.Decimal
	if side == events.SideBid {
		diff = best.Sub(price)
	} else {
		diff = price.Sub(best)
	}
	if diff.Sign() < 0 {
		return 0, false
	}

	ticks := diff.Div(s.TickSize)
	if !ticks.Equal(ticks.Round(0)) {
		// price is not a multiple of tick_size away from best; still
		// report the rounded distance rather than rejecting outright.
		ticks = ticks.Round(0)
	}
	return ticks.IntPart(), true
}
