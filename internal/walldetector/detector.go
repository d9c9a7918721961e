package walldetector

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wallwatch/wallwatch/internal/book"
	"github.com/wallwatch/wallwatch/internal/events"
)

// advanceBook runs one book snapshot through the state machine:
// validate, teleport-reset, lost/confirm/consuming transitions for
// existing candidates, then candidate creation for newly-qualifying
// levels. Order matches section 4.3: disappearance and discontinuity
// are resolved before promotions, so a level can't be "confirmed" and
// "lost" in the same call.
func advanceBook(state *SymbolState, snap book.Snapshot, now Now) ([]events.Event, error) {
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	var out []events.Event

	for _, side := range []events.Side{events.SideBid, events.SideAsk} {
		if teleportJumped(state, snap, side) {
			discardSide(state, side)
		}
	}

	for _, side := range []events.Side{events.SideBid, events.SideAsk} {
		out = append(out, processExistingCandidates(state, snap, side, now)...)
	}

	for _, side := range []events.Side{events.SideBid, events.SideAsk} {
		out = append(out, createNewCandidates(state, snap, side, now)...)
	}

	state.LatestBook = &snap
	return out, nil
}

// validateSnapshot enforces the BookSnapshot invariants from
// SPEC_FULL.md section 3: no negative quantities, no duplicate prices
// per side, bids[0] < asks[0] when both sides are present.
func validateSnapshot(snap book.Snapshot) error {
	seen := make(map[string]struct{}, len(snap.Bids)+len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Quantity < 0 {
			return &DetectorLogicError{Reason: "negative bid quantity"}
		}
		key := "b:" + lvl.Price.StringFixed(8)
		if _, dup := seen[key]; dup {
			return &DetectorLogicError{Reason: "duplicate bid price"}
		}
		seen[key] = struct{}{}
	}
	for _, lvl := range snap.Asks {
		if lvl.Quantity < 0 {
			return &DetectorLogicError{Reason: "negative ask quantity"}
		}
		key := "a:" + lvl.Price.StringFixed(8)
		if _, dup := seen[key]; dup {
			return &DetectorLogicError{Reason: "duplicate ask price"}
		}
		seen[key] = struct{}{}
	}
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 && !snap.Bids[0].Price.LessThan(snap.Asks[0].Price) {
		return &DetectorLogicError{Reason: "crossed book: best bid >= best ask"}
	}
	return nil
}

// teleportJumped reports whether the top-of-book on side moved by more
// than max(5, 2*candidate_max_distance_ticks) ticks since the previous
// snapshot — a sparse book or session gap, per section 4.3's teleport
// reset rule.
func teleportJumped(state *SymbolState, snap book.Snapshot, side events.Side) bool {
	if !state.Config.TeleportReset || state.LatestBook == nil {
		return false
	}
	oldBest, ok := state.LatestBook.BestPrice(side)
	if !ok {
		return false
	}
	newBest, ok := snap.BestPrice(side)
	if !ok || snap.TickSize.Sign() <= 0 {
		return false
	}

	diff := oldBest.Sub(newBest).Abs()
	ticks := diff.Div(snap.TickSize).Round(0).IntPart()

	threshold := int64(5)
	if t := 2 * state.Config.CandidateMaxDistanceTicks; t > threshold {
		threshold = t
	}
	return ticks > threshold
}

// discardSide drops every candidate on side without emitting WallLost,
// preventing spurious lost-events on discontinuous updates.
func discardSide(state *SymbolState, side events.Side) {
	for key, c := range state.Candidates {
		if c.Side == side {
			delete(state.Candidates, key)
		}
	}
}

// processExistingCandidates evaluates the lost, confirm and consuming
// transitions for every candidate currently tracked on side.
func processExistingCandidates(state *SymbolState, snap book.Snapshot, side events.Side, now Now) []events.Event {
	var out []events.Event

	keys := make([]candidateKey, 0)
	for key, c := range state.Candidates {
		if c.Side == side {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].price < keys[j].price })

	for _, key := range keys {
		c := state.Candidates[key]

		qty := snap.FindLevel(side, c.Price)
		if qty == 0 {
			if c.LastState == StateConfirmed || c.LastState == StateConsuming {
				if allowed(state, events.KindLost, c.Side, c.Price, now.Mono) {
					out = append(out, lostEvent(state, c, now))
				}
			}
			delete(state.Candidates, key)
			continue
		}

		c.QuantityCurrent = qty
		c.LastSeenAt = now.Mono
		recordObservation(c, now.Mono, qty, state.Config.ConsumeWindowSeconds)

		distance, hasDistance := snap.DistanceTicks(side, c.Price)

		switch c.LastState {
		case StateCandidate:
			if ev, ok := tryConfirm(state, snap, c, distance, hasDistance, now); ok {
				out = append(out, ev)
			}
		case StateConfirmed:
			if ev, ok := tryConsuming(state, c, now); ok {
				out = append(out, ev)
			}
		case StateConsuming:
			// terminal short of disappearance, handled above.
		}
	}

	return out
}

func recordObservation(c *WallCandidate, now int64, qty int64, windowSeconds float64) {
	c.history = append(c.history, qtyObservation{at: now, qty: qty})
	cutoff := now - int64(windowSeconds*1e9)
	i := 0
	for i < len(c.history) && c.history[i].at < cutoff {
		i++
	}
	if i > 0 {
		c.history = c.history[i:]
	}
}

func maxHistoryQty(c *WallCandidate) int64 {
	var max int64
	for _, o := range c.history {
		if o.qty > max {
			max = o.qty
		}
	}
	return max
}

// tryConfirm evaluates the confirm transition for a CANDIDATE.
func tryConfirm(state *SymbolState, snap book.Snapshot, c *WallCandidate, distance int64, hasDistance bool, now Now) (events.Event, bool) {
	cfg := state.Config
	dwellElapsed := float64(now.Mono-c.StateEnteredAt)/1e9 >= cfg.ConfirmDwellSeconds
	if !dwellElapsed || !hasDistance || distance > cfg.ConfirmMaxDistanceTicks {
		return nil, false
	}

	median := snap.MedianQuantity(c.Side, cfg.TopNLevels)
	threshold := decimal.NewFromFloat(cfg.CandidateRatioToMedian).
		Mul(decimal.NewFromInt(median)).
		Mul(decimal.NewFromFloat(1 - cfg.ConfirmShrinkTolerance))
	if median > 0 && decimal.NewFromInt(c.QuantityCurrent).LessThan(threshold) {
		return nil, false
	}

	dwellSeconds := float64(now.Mono-c.StateEnteredAt) / 1e9
	c.LastState = StateConfirmed
	c.StateEnteredAt = now.Mono

	if !allowed(state, events.KindConfirmed, c.Side, c.Price, now.Mono) {
		return nil, false
	}
	return events.WallConfirmed{
		Symbol:       state.Symbol,
		Side:         c.Side,
		Price:        c.Price,
		Quantity:     c.QuantityCurrent,
		DwellSeconds: dwellSeconds,
		At:           now.Wall,
	}, true
}

// tryConsuming evaluates the consuming transition for a CONFIRMED wall.
func tryConsuming(state *SymbolState, c *WallCandidate, now Now) (events.Event, bool) {
	cfg := state.Config
	qRef := maxHistoryQty(c)
	if qRef <= 0 {
		return nil, false
	}

	drop := float64(qRef-c.QuantityCurrent) / float64(qRef)
	if drop < cfg.ConsumeDropPct {
		return nil, false
	}

	executed := state.Trades.VolumeAtPrice(now.Mono, c.Price, cfg.ConsumeWindowSeconds)
	if executed < cfg.MinExecConfirm {
		return nil, false
	}

	before := qRef
	c.LastState = StateConsuming
	c.StateEnteredAt = now.Mono

	if !allowed(state, events.KindConsuming, c.Side, c.Price, now.Mono) {
		return nil, false
	}
	return events.WallConsuming{
		Symbol:         state.Symbol,
		Side:           c.Side,
		Price:          c.Price,
		QuantityBefore: before,
		QuantityNow:    c.QuantityCurrent,
		DropPct:        drop,
		ExecutedVolume: executed,
		At:             now.Wall,
	}, true
}

func lostEvent(state *SymbolState, c *WallCandidate, now Now) events.Event {
	age := float64(now.Mono-c.FirstSeenAt) / 1e9
	return events.WallLost{
		Symbol:        state.Symbol,
		Side:          c.Side,
		Price:         c.Price,
		LastQuantity:  c.QuantityCurrent,
		AgeSeconds:    age,
		PreviousState: string(c.LastState),
		At:            now.Wall,
	}
}

// createNewCandidates scans snap's side for levels satisfying the
// candidate predicate that aren't already tracked, in descending
// quantity order per section 4.3's tie-breaking rule, and emits
// WallCandidate for each (subject to cooldown).
func createNewCandidates(state *SymbolState, snap book.Snapshot, side events.Side, now Now) []events.Event {
	cfg := state.Config
	var levels []book.PriceLevel
	if side == events.SideBid {
		levels = snap.Bids
	} else {
		levels = snap.Asks
	}

	median := snap.MedianQuantity(side, cfg.TopNLevels)

	type candidateLevel struct {
		level    book.PriceLevel
		distance int64
	}
	var fresh []candidateLevel

	for _, lvl := range levels {
		if _, tracked := state.Candidates[keyFor(side, lvl.Price)]; tracked {
			continue
		}
		distance, ok := snap.DistanceTicks(side, lvl.Price)
		if !ok || distance > cfg.CandidateMaxDistanceTicks {
			continue
		}
		if lvl.Quantity < cfg.AbsQtyThreshold {
			continue
		}
		if median > 0 {
			threshold := decimal.NewFromFloat(cfg.CandidateRatioToMedian).Mul(decimal.NewFromInt(median))
			if decimal.NewFromInt(lvl.Quantity).LessThan(threshold) {
				continue
			}
		}
		fresh = append(fresh, candidateLevel{level: lvl, distance: distance})
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].level.Quantity > fresh[j].level.Quantity
	})

	var out []events.Event
	for _, f := range fresh {
		c := &WallCandidate{
			Side:                     side,
			Price:                    f.level.Price,
			QuantityInitial:          f.level.Quantity,
			QuantityCurrent:          f.level.Quantity,
			FirstSeenAt:              now.Mono,
			LastSeenAt:               now.Mono,
			LastState:                StateCandidate,
			StateEnteredAt:           now.Mono,
			DistanceTicksAtFirstSeen: f.distance,
		}
		recordObservation(c, now.Mono, f.level.Quantity, cfg.ConsumeWindowSeconds)
		state.Candidates[keyFor(side, f.level.Price)] = c

		if allowed(state, events.KindCandidate, side, f.level.Price, now.Mono) {
			out = append(out, events.WallCandidate{
				Symbol:        state.Symbol,
				Side:          side,
				Price:         f.level.Price,
				Quantity:      f.level.Quantity,
				DistanceTicks: f.distance,
				At:            now.Wall,
			})
		}
	}
	return out
}

// allowed consults the per-(kind,side,price) cooldown gate. When the
// gate is open it records now as the kind's last emission time and
// returns true; a suppressed call leaves the recorded time untouched
// so the cooldown keeps counting from the original emission.
func allowed(state *SymbolState, kind events.Kind, side events.Side, price decimal.Decimal, now int64) bool {
	key := cooldownKey{kind: kind, side: side, price: price.StringFixed(8)}
	cooldown := state.Config.CooldownSeconds[kind]

	last, seen := state.lastEventAt[key]
	if seen && float64(now-last)/1e9 < cooldown {
		return false
	}
	state.lastEventAt[key] = now
	return true
}
