// Package walldetector implements the per-symbol wall lifecycle state
// machine described in SPEC_FULL.md section 4.3. It is pure and
// synchronous: given a SymbolState, an input (a book snapshot or a
// trade print) and a caller-supplied monotonic "now", it returns the
// events that input produced. No I/O and no wall-clock reads happen
// inside this package — "now" is always an input, which is what makes
// replaying the same input sequence deterministic.
package walldetector

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wallwatch/wallwatch/internal/book"
	"github.com/wallwatch/wallwatch/internal/config"
	"github.com/wallwatch/wallwatch/internal/events"
	"github.com/wallwatch/wallwatch/internal/tradewindow"
)

// Now is the detector's sole source of time: a monotonic reading (used
// for every dwell/window/cooldown computation, and thus required to be
// non-decreasing across calls for a given symbol) paired with the
// wall-clock instant it corresponds to (carried only into emitted
// events, for user display, per the wall-clock-vs-monotonic design
// note). Both fields are supplied by the caller; the detector never
// reads a clock itself.
type Now struct {
	Mono int64
	Wall time.Time
}

// CandidateState is the position of a tracked level in the four-state
// machine. ABSENT is implicit: a level with no entry in the candidates
// map is absent.
type CandidateState string

const (
	StateCandidate CandidateState = "candidate"
	StateConfirmed CandidateState = "confirmed"
	StateConsuming CandidateState = "consuming"
)

type qtyObservation struct {
	at  int64
	qty int64
}

// WallCandidate tracks one resting level through the lifecycle.
type WallCandidate struct {
	Side                     events.Side
	Price                    decimal.Decimal
	QuantityInitial          int64
	QuantityCurrent          int64
	FirstSeenAt              int64
	LastSeenAt               int64
	LastState                CandidateState
	StateEnteredAt           int64
	DistanceTicksAtFirstSeen int64

	// history feeds the consuming transition's q_ref computation: the
	// max quantity observed at this (side, price) within the last
	// consume_window_seconds.
	history []qtyObservation
}

type candidateKey struct {
	side  events.Side
	price string
}

func keyFor(side events.Side, price decimal.Decimal) candidateKey {
	return candidateKey{side: side, price: price.StringFixed(8)}
}

type cooldownKey struct {
	kind  events.Kind
	side  events.Side
	price string
}

// SymbolState is the per-symbol state the detector threads through
// calls. It is created once per subscribed symbol and survives
// reconnects: wall candidates observed before a brief reconnect are
// not forgotten.
type SymbolState struct {
	Symbol     string
	Config     config.DetectorConfig
	TickSize   decimal.Decimal
	LatestBook *book.Snapshot
	Trades     *tradewindow.Window
	Candidates map[candidateKey]*WallCandidate

	lastEventAt map[cooldownKey]int64
}

// NewSymbolState constructs the state for a freshly subscribed symbol.
func NewSymbolState(symbol string, cfg config.DetectorConfig, tickSize decimal.Decimal) *SymbolState {
	return &SymbolState{
		Symbol:      symbol,
		Config:      cfg,
		TickSize:    tickSize,
		Trades:      tradewindow.New(0),
		Candidates:  make(map[candidateKey]*WallCandidate),
		lastEventAt: make(map[cooldownKey]int64),
	}
}

// Input is the sum type the detector consumes: either a book snapshot
// or a trade print.
type Input interface {
	isDetectorInput()
}

// BookInput wraps a full top-N book snapshot.
type BookInput struct {
	Snapshot book.Snapshot
}

func (BookInput) isDetectorInput() {}

// TradeInput wraps a single executed trade print.
type TradeInput struct {
	Trade tradewindow.Trade
}

func (TradeInput) isDetectorInput() {}

// DetectorLogicError signals an invariant violation in the input
// (negative quantity, duplicate price, crossed book). Per SPEC_FULL.md
// section 7 the caller logs at ERROR and drops the offending frame;
// the detector itself never panics or logs.
type DetectorLogicError struct {
	Reason string
}

func (e *DetectorLogicError) Error() string {
	return fmt.Sprintf("detector logic error: %s", e.Reason)
}

// Advance is the detector's single entry point: given (state, input,
// now) it returns the events that input produced. state is mutated in
// place; the result has no hidden dependency on wall-clock time or
// global state, so replaying the same
// (state, input, now) sequence always yields the same events.
func Advance(state *SymbolState, in Input, now Now) ([]events.Event, error) {
	switch v := in.(type) {
	case BookInput:
		return advanceBook(state, v.Snapshot, now)
	case TradeInput:
		state.Trades.Record(v.Trade)
		return nil, nil
	default:
		return nil, fmt.Errorf("walldetector: unknown input type %T", in)
	}
}
