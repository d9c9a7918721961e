// Package transport defines the external collaborators WallWatch
// consumes: the upstream depth/trade message source and the instrument
// resolver. Both are out of scope per SPEC_FULL.md section 1 — this
// package only states the interfaces the supervisor drives, plus a
// reference gorilla/websocket-backed Transport and a static,
// table-driven Resolver.
package transport

import (
	"context"

	"github.com/shopspring/decimal"
)

// DepthFrame is a full top-N snapshot of one instrument's book, as
// produced by the transport. Per SPEC_FULL.md's open-question
// decision, depth frames are always full snapshots, never incremental
// deltas.
type DepthFrame struct {
	InstrumentID string
	Bids         []PriceQty
	Asks         []PriceQty
	ReceivedAt   int64 // wall-clock receipt time, Unix nanoseconds
}

// PriceQty is a raw (price, quantity) pair as received over the wire,
// before it's folded into a book.Snapshot.
type PriceQty struct {
	Price    decimal.Decimal
	Quantity int64
}

// TradeFrame is one executed print, as produced by the transport.
type TradeFrame struct {
	InstrumentID string
	Price        decimal.Decimal
	Quantity     int64
	Side         string // "buyer" or "seller"
	Timestamp    int64  // wall-clock receipt time, Unix nanoseconds
}

// Frame is the sum type yielded by Subscription.Next: exactly one of
// Depth or Trade is non-nil.
type Frame struct {
	Depth *DepthFrame
	Trade *TradeFrame
}

// Subscription is a single multiplexed subscription covering depth
// updates and trade prints for a set of instruments. It is the async
// message source the supervisor drives; everything about its wire
// format and transport is opaque to WallWatch's core.
type Subscription interface {
	// Next blocks until a frame arrives, ctx is cancelled, or the
	// subscription ends (io.EOF-equivalent error).
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Transport opens subscriptions against a set of instrument IDs.
type Transport interface {
	Subscribe(ctx context.Context, instrumentIDs []string) (Subscription, error)
}

// Instrument is what the resolver returns for a symbol.
type Instrument struct {
	InstrumentID string
	TickSize     decimal.Decimal
	PriceScale   int32
}

// Resolver resolves a human symbol to an instrument identifier and
// tick size. The supervisor calls it once per symbol at startup (and
// again on reconnect, since tick sizes can change across sessions);
// partial resolution is not allowed — see internal/supervisor.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (Instrument, error)
}
