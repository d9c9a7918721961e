package walldetector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wallwatch/wallwatch/internal/book"
	"github.com/wallwatch/wallwatch/internal/config"
	"github.com/wallwatch/wallwatch/internal/events"
	"github.com/wallwatch/wallwatch/internal/tradewindow"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// scenarioConfig mirrors section 8's literal worked-example parameters.
func scenarioConfig() config.DetectorConfig {
	return config.DetectorConfig{
		TopNLevels:                3,
		CandidateRatioToMedian:    10,
		CandidateMaxDistanceTicks: 2,
		AbsQtyThreshold:           0,
		ConfirmDwellSeconds:       3,
		ConfirmMaxDistanceTicks:   2,
		ConfirmShrinkTolerance:    0,
		ConsumeWindowSeconds:      3,
		ConsumeDropPct:            0.25,
		MinExecConfirm:            50,
		TeleportReset:             true,
		CooldownSeconds: map[events.Kind]float64{
			events.KindCandidate: 0,
			events.KindConfirmed: 0,
			events.KindConsuming: 0,
			events.KindLost:      0,
		},
	}
}

func nowAt(seconds float64) Now {
	return Now{Mono: int64(seconds * 1e9), Wall: time.Unix(0, int64(seconds*1e9))}
}

func baseBook(askThird book.PriceLevel) book.Snapshot {
	return book.Snapshot{
		Symbol:   "BTC-USD",
		TickSize: dec("0.01"),
		Bids: []book.PriceLevel{
			{Price: dec("100.00"), Quantity: 10},
			{Price: dec("99.99"), Quantity: 10},
			{Price: dec("99.98"), Quantity: 10},
		},
		Asks: []book.PriceLevel{
			{Price: dec("100.01"), Quantity: 10},
			{Price: dec("100.02"), Quantity: 10},
			askThird,
		},
		Depth: 20,
	}
}

func findEvent[T events.Event](evs []events.Event) (T, bool) {
	for _, ev := range evs {
		if v, ok := ev.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Scenario 1: candidate then confirm then lost.
func TestScenarioCandidateThenConfirmThenLost(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap0 := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	evs, err := Advance(state, BookInput{Snapshot: snap0}, nowAt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cand, ok := findEvent[events.WallCandidate](evs)
	if !ok {
		t.Fatalf("expected WallCandidate at t=0, got %v", evs)
	}
	if !cand.Price.Equal(dec("100.03")) || cand.Side != events.SideAsk {
		t.Fatalf("unexpected candidate: %+v", cand)
	}

	// same book, t=3.0 -> confirm
	snap1 := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	evs, err = Advance(state, BookInput{Snapshot: snap1}, nowAt(3.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallConfirmed](evs); !ok {
		t.Fatalf("expected WallConfirmed at t=3.0, got %v", evs)
	}

	// level removed -> lost
	snap2 := book.Snapshot{
		Symbol:   "BTC-USD",
		TickSize: dec("0.01"),
		Bids:     snap1.Bids,
		Asks: []book.PriceLevel{
			{Price: dec("100.01"), Quantity: 10},
			{Price: dec("100.02"), Quantity: 10},
		},
		Depth: 20,
	}
	evs, err = Advance(state, BookInput{Snapshot: snap2}, nowAt(3.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallLost](evs); !ok {
		t.Fatalf("expected WallLost once the confirmed level disappears, got %v", evs)
	}
}

// Scenario 2: consuming.
func TestScenarioConsuming(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	if _, err := Advance(state, BookInput{Snapshot: snap}, nowAt(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evs, err := Advance(state, BookInput{Snapshot: snap}, nowAt(3.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallConfirmed](evs); !ok {
		t.Fatalf("expected WallConfirmed at t=3.0")
	}

	trade := tradewindow.Trade{Price: dec("100.03"), Quantity: 60, Side: tradewindow.SideSeller, Timestamp: int64(3.5 * 1e9)}
	if _, err := Advance(state, TradeInput{Trade: trade}, nowAt(3.5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shrunk := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 350})
	evs, err = Advance(state, BookInput{Snapshot: shrunk}, nowAt(4.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	consuming, ok := findEvent[events.WallConsuming](evs)
	if !ok {
		t.Fatalf("expected WallConsuming at t=4.0, got %v", evs)
	}
	if consuming.ExecutedVolume != 60 {
		t.Fatalf("expected executed volume 60, got %d", consuming.ExecutedVolume)
	}
}

// Scenario 3: an unconfirmed candidate disappearing silently emits no WallLost.
func TestScenarioSilentDisappearanceOfCandidate(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap0 := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	evs, err := Advance(state, BookInput{Snapshot: snap0}, nowAt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallCandidate](evs); !ok {
		t.Fatalf("expected WallCandidate at t=0")
	}

	snap1 := book.Snapshot{
		Symbol:   "BTC-USD",
		TickSize: dec("0.01"),
		Bids:     snap0.Bids,
		Asks: []book.PriceLevel{
			{Price: dec("100.01"), Quantity: 10},
			{Price: dec("100.02"), Quantity: 10},
		},
		Depth: 20,
	}
	evs, err = Advance(state, BookInput{Snapshot: snap1}, nowAt(1.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallLost](evs); ok {
		t.Fatalf("did not expect WallLost for a candidate that never confirmed, got %v", evs)
	}
}

// Scenario 4: teleport reset discards candidates without a WallLost.
func TestScenarioTeleportReset(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap0 := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	if _, err := Advance(state, BookInput{Snapshot: snap0}, nowAt(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	teleported := book.Snapshot{
		Symbol:   "BTC-USD",
		TickSize: dec("0.01"),
		Bids:     snap0.Bids,
		Asks: []book.PriceLevel{
			{Price: dec("110.00"), Quantity: 10},
			{Price: dec("110.01"), Quantity: 10},
		},
		Depth: 20,
	}
	evs, err := Advance(state, BookInput{Snapshot: teleported}, nowAt(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallLost](evs); ok {
		t.Fatalf("teleport reset must not emit WallLost, got %v", evs)
	}
	if len(state.Candidates) != 0 {
		t.Fatalf("expected pre-teleport ask candidates discarded, got %d remaining", len(state.Candidates))
	}
}

// Scenario 5: cooldown suppresses a reappearing candidate's second event.
func TestScenarioCooldownSuppressesReappearance(t *testing.T) {
	cfg := scenarioConfig()
	cfg.CooldownSeconds[events.KindCandidate] = 60
	state := NewSymbolState("BTC-USD", cfg, dec("0.01"))

	snap0 := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	evs, err := Advance(state, BookInput{Snapshot: snap0}, nowAt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallCandidate](evs); !ok {
		t.Fatalf("expected first WallCandidate at t=0")
	}

	gone := book.Snapshot{
		Symbol: "BTC-USD", TickSize: dec("0.01"), Bids: snap0.Bids,
		Asks: []book.PriceLevel{{Price: dec("100.01"), Quantity: 10}, {Price: dec("100.02"), Quantity: 10}},
		Depth: 20,
	}
	if _, err := Advance(state, BookInput{Snapshot: gone}, nowAt(1.0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reappeared := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	evs, err = Advance(state, BookInput{Snapshot: reappeared}, nowAt(10.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallCandidate](evs); ok {
		t.Fatalf("expected reappearance within cooldown to be suppressed, got %v", evs)
	}
}

// Scenario 6: reconnect preserves state; dwell continues from the
// original state_entered_at rather than restarting.
func TestScenarioReconnectPreservesState(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	if _, err := Advance(state, BookInput{Snapshot: snap}, nowAt(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a reconnect: no input arrives between t=1.0 and t=2.5; the
	// same SymbolState is simply reused by the supervisor, so the next
	// Advance call at t=3.1 still satisfies the original dwell window.
	evs, err := Advance(state, BookInput{Snapshot: snap}, nowAt(3.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallConfirmed](evs); !ok {
		t.Fatalf("expected WallConfirmed once dwell elapses across a reconnect gap, got %v", evs)
	}
}

// Idempotence: an identical snapshot at an identical now produces no
// new events.
func TestIdempotentRepeatedSnapshot(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap := baseBook(book.PriceLevel{Price: dec("100.03"), Quantity: 500})
	if _, err := Advance(state, BookInput{Snapshot: snap}, nowAt(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evs, err := Advance(state, BookInput{Snapshot: snap}, nowAt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := findEvent[events.WallCandidate](evs); ok {
		t.Fatalf("expected no duplicate WallCandidate for an unchanged snapshot at the same now, got %v", evs)
	}
}

// Boundary: an empty side produces no events and no error.
func TestEmptySideProducesNoEvents(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap := book.Snapshot{Symbol: "BTC-USD", TickSize: dec("0.01")}
	evs, err := Advance(state, BookInput{Snapshot: snap}, nowAt(0))
	if err != nil {
		t.Fatalf("unexpected error on empty book: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events on an empty book, got %v", evs)
	}
}

// Crossed book is rejected as a detector logic error.
func TestCrossedBookIsRejected(t *testing.T) {
	state := NewSymbolState("BTC-USD", scenarioConfig(), dec("0.01"))

	snap := book.Snapshot{
		Symbol:   "BTC-USD",
		TickSize: dec("0.01"),
		Bids:     []book.PriceLevel{{Price: dec("100.05"), Quantity: 10}},
		Asks:     []book.PriceLevel{{Price: dec("100.00"), Quantity: 10}},
	}
	if _, err := Advance(state, BookInput{Snapshot: snap}, nowAt(0)); err == nil {
		t.Fatalf("expected a detector logic error for a crossed book")
	}
}
