// Package events defines the tagged event variants emitted by the wall
// detector and consumed by sinks.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which side of the book a level sits on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Kind tags which of the four lifecycle variants an Event carries.
type Kind string

const (
	KindCandidate Kind = "wall_candidate"
	KindConfirmed Kind = "wall_confirmed"
	KindConsuming Kind = "wall_consuming"
	KindLost      Kind = "wall_lost"
)

// Event is the common interface implemented by every lifecycle variant.
// Sinks type-switch on the concrete type rather than inspecting a
// generic payload bag.
type Event interface {
	GetKind() Kind
	GetSymbol() string
	GetSide() Side
	GetPrice() decimal.Decimal
	GetAt() time.Time
}

// WallCandidate is emitted when a resting level first satisfies the
// candidate predicate.
type WallCandidate struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      int64
	DistanceTicks int64
	At            time.Time
}

func (e WallCandidate) GetKind() Kind             { return KindCandidate }
func (e WallCandidate) GetSymbol() string         { return e.Symbol }
func (e WallCandidate) GetSide() Side             { return e.Side }
func (e WallCandidate) GetPrice() decimal.Decimal { return e.Price }
func (e WallCandidate) GetAt() time.Time          { return e.At }

// WallConfirmed is emitted when a candidate survives its dwell period.
type WallConfirmed struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      int64
	DwellSeconds  float64
	At            time.Time
}

func (e WallConfirmed) GetKind() Kind             { return KindConfirmed }
func (e WallConfirmed) GetSymbol() string         { return e.Symbol }
func (e WallConfirmed) GetSide() Side             { return e.Side }
func (e WallConfirmed) GetPrice() decimal.Decimal { return e.Price }
func (e WallConfirmed) GetAt() time.Time          { return e.At }

// WallConsuming is emitted when a confirmed wall shrinks while trades
// execute at its price.
type WallConsuming struct {
	Symbol         string
	Side           Side
	Price          decimal.Decimal
	QuantityBefore int64
	QuantityNow    int64
	DropPct        float64
	ExecutedVolume int64
	At             time.Time
}

func (e WallConsuming) GetKind() Kind             { return KindConsuming }
func (e WallConsuming) GetSymbol() string         { return e.Symbol }
func (e WallConsuming) GetSide() Side             { return e.Side }
func (e WallConsuming) GetPrice() decimal.Decimal { return e.Price }
func (e WallConsuming) GetAt() time.Time          { return e.At }

// WallLost is emitted when a confirmed or consuming wall disappears
// from the book.
type WallLost struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	LastQuantity  int64
	AgeSeconds    float64
	PreviousState string
	At            time.Time
}

func (e WallLost) GetKind() Kind             { return KindLost }
func (e WallLost) GetSymbol() string         { return e.Symbol }
func (e WallLost) GetSide() Side             { return e.Side }
func (e WallLost) GetPrice() decimal.Decimal { return e.Price }
func (e WallLost) GetAt() time.Time          { return e.At }
