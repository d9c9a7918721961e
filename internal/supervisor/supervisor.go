// Package supervisor runs the long-lived ingestion loop: it resolves
// instruments, opens the multiplexed depth+trade subscription, feeds
// frames into per-symbol detectors, dispatches emitted events to
// sinks, and recovers from transport failures with bounded exponential
// backoff. Detector state is preserved across reconnects — the same
// SymbolStates are reused — so a brief disconnect never forgets a wall
// candidate observed before it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wallwatch/wallwatch/internal/book"
	"github.com/wallwatch/wallwatch/internal/config"
	"github.com/wallwatch/wallwatch/internal/events"
	"github.com/wallwatch/wallwatch/internal/metrics"
	"github.com/wallwatch/wallwatch/internal/sink"
	"github.com/wallwatch/wallwatch/internal/tradewindow"
	"github.com/wallwatch/wallwatch/internal/transport"
	"github.com/wallwatch/wallwatch/internal/walldetector"
)

type changeKind string

const (
	changeAdd    changeKind = "add"
	changeRemove changeKind = "remove"
)

type subscriptionChange struct {
	id     string
	kind   changeKind
	symbol string
}

// errSubscriptionChanged is returned by drive when a queued
// add/remove request reached its safe point and the subscription must
// be reopened with the new symbol set. It is not a failure: Run skips
// the backoff sleep and the tick-size re-resolution a real transport
// error triggers.
var errSubscriptionChanged = errors.New("supervisor: subscription change requested")

// Supervisor is the ingestion loop for a configured set of symbols.
type Supervisor struct {
	cfg       config.Config
	transport transport.Transport
	resolver  transport.Resolver
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sinks     []*sink.QueuedSink
	clock     clock

	mu         sync.Mutex
	symbols    []string
	instrument map[string]transport.Instrument    // symbol -> instrument
	bySymbol   map[string]*walldetector.SymbolState // symbol -> state
	byInstID   map[string]string                  // instrument_id -> symbol

	changeQueue chan subscriptionChange
	statusReq   chan chan Status
}

// New constructs a Supervisor for the configured symbol set.
func New(cfg config.Config, tp transport.Transport, resolver transport.Resolver, sinks []*sink.QueuedSink, m *metrics.Metrics, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		transport:   tp,
		resolver:    resolver,
		logger:      logger.Named("supervisor"),
		metrics:     m,
		sinks:       sinks,
		clock:       newClock(),
		symbols:     append([]string(nil), cfg.Symbols...),
		instrument:  make(map[string]transport.Instrument),
		bySymbol:    make(map[string]*walldetector.SymbolState),
		byInstID:    make(map[string]string),
		changeQueue: make(chan subscriptionChange, 16),
		statusReq:   make(chan chan Status, 4),
	}
}

// Status is a read-only snapshot of the supervisor's subscribed
// symbols and per-symbol candidate counts, produced by copying summary
// fields from the owning task rather than sharing memory with a caller.
type Status struct {
	Symbols         []string
	CandidateCounts map[string]int
	SinkStats       map[string]sink.Stats
}

// RequestStatus asks the supervisor's own goroutine to build a Status
// snapshot and returns it. Safe to call from any goroutine.
func (s *Supervisor) RequestStatus(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case s.statusReq <- reply:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// RequestAddSymbol enqueues a symbol addition, applied at the next
// safe point (the start of the next reconnect cycle).
func (s *Supervisor) RequestAddSymbol(symbol string) string {
	id := uuid.New().String()
	s.changeQueue <- subscriptionChange{id: id, kind: changeAdd, symbol: symbol}
	return id
}

// RequestRemoveSymbol enqueues a symbol removal.
func (s *Supervisor) RequestRemoveSymbol(symbol string) string {
	id := uuid.New().String()
	s.changeQueue <- subscriptionChange{id: id, kind: changeRemove, symbol: symbol}
	return id
}

// Run resolves every configured symbol, opens the subscription and
// drives the ingestion loop until ctx is cancelled or a fatal error
// (ResolverError, AuthPermanentError, UnrecoverableTransportError)
// occurs.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.resolveAll(ctx, s.symbols); err != nil {
		return err
	}

	backoff := s.cfg.Supervisor.RetryBackoffInitialSecs

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.applyPendingChanges(ctx)

		sub, err := s.transport.Subscribe(ctx, s.instrumentIDs())
		if err != nil {
			var authErr *AuthPermanentError
			if errors.As(err, &authErr) {
				return err
			}
			s.logger.Warn("subscribe failed, backing off", zap.Error(err), zap.Float64("backoff_seconds", backoff))
			if s.metrics != nil {
				s.metrics.Reconnects.WithLabelValues("subscribe_error").Inc()
				s.metrics.BackoffSeconds.Observe(backoff)
			}
			if !s.sleepBackoff(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, s.cfg.Supervisor.RetryBackoffMaxSeconds)
			continue
		}

		reset, driveErr := s.drive(ctx, sub)
		sub.Close()
		if reset {
			backoff = s.cfg.Supervisor.RetryBackoffInitialSecs
		}

		if driveErr == nil {
			return nil // clean shutdown
		}

		if errors.Is(driveErr, errSubscriptionChanged) {
			s.logger.Info("reopening subscription for pending symbol change")
			if s.metrics != nil {
				s.metrics.Reconnects.WithLabelValues("subscription_change").Inc()
			}
			continue
		}

		var authErr *AuthPermanentError
		var unrecoverable *UnrecoverableTransportError
		if errors.As(driveErr, &authErr) || errors.As(driveErr, &unrecoverable) {
			return driveErr
		}

		s.logger.Info("reconnecting after transport error", zap.Error(driveErr), zap.Float64("backoff_seconds", backoff))
		if s.metrics != nil {
			s.metrics.Reconnects.WithLabelValues("transport_error").Inc()
			s.metrics.BackoffSeconds.Observe(backoff)
		}
		if !s.sleepBackoff(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, s.cfg.Supervisor.RetryBackoffMaxSeconds)

		// Tick sizes can change across sessions; re-resolve on reconnect.
		if err := s.resolveAll(ctx, s.symbols); err != nil {
			return err
		}
	}
}

func nextBackoff(current, max float64) float64 {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

func (s *Supervisor) sleepBackoff(ctx context.Context, seconds float64) bool {
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return true
	case <-ctx.Done():
		return false
	}
}

// drive runs the per-subscription read loop: forward frames from sub
// into the detector, dispatch events to sinks, and watch the idle
// guard. A queued add/remove request ends the loop immediately with
// errSubscriptionChanged, which Run treats as "reopen now, no
// backoff" rather than a failure — that's the subscription's one safe
// point to be torn down and rebuilt with the new symbol set. drive
// returns whether the caller should reset its backoff counter (true
// once a frame has been successfully received) and the error that
// ended the loop (nil on clean shutdown).
func (s *Supervisor) drive(ctx context.Context, sub transport.Subscription) (bool, error) {
	frameCh := make(chan transport.Frame)
	errCh := make(chan error, 1)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	go func() {
		for {
			f, err := sub.Next(readCtx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case frameCh <- f:
			case <-readCtx.Done():
				return
			}
		}
	}()

	idleDuration := time.Duration(s.cfg.Supervisor.StreamIdleSleepSeconds * float64(time.Second))
	idleTimer := time.NewTimer(idleDuration)
	defer idleTimer.Stop()

	resetBackoff := false

	for {
		select {
		case <-ctx.Done():
			return resetBackoff, nil

		case err := <-errCh:
			return resetBackoff, fmt.Errorf("transport: %w", err)

		case <-idleTimer.C:
			return resetBackoff, fmt.Errorf("transport: idle guard fired after %s with no frames", idleDuration)

		case change := <-s.changeQueue:
			s.queueChange(change)
			s.drainPendingChanges()
			return resetBackoff, errSubscriptionChanged

		case reply := <-s.statusReq:
			reply <- s.snapshotStatus()

		case frame := <-frameCh:
			resetBackoff = true
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idleDuration)
			s.handleFrame(frame)
		}
	}
}

// drainPendingChanges folds any other mutation requests already queued
// alongside the one that triggered the reopen into the same safe
// point, so a burst of adds/removes reopens the subscription once
// instead of once per request.
func (s *Supervisor) drainPendingChanges() {
	for {
		select {
		case change := <-s.changeQueue:
			s.queueChange(change)
		default:
			return
		}
	}
}

// queueChange applies a mutation request to the tracked symbol set.
// Called from drive at a safe point, immediately before the
// subscription is closed and reopened against the updated set by
// Run's next iteration (via applyPendingChanges/instrumentIDs).
func (s *Supervisor) queueChange(change subscriptionChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch change.kind {
	case changeAdd:
		for _, sym := range s.symbols {
			if sym == change.symbol {
				return
			}
		}
		if len(s.symbols) >= s.cfg.Supervisor.MaxSymbols {
			s.logger.Warn("refusing symbol add: at max_symbols", zap.String("symbol", change.symbol), zap.Int("max_symbols", s.cfg.Supervisor.MaxSymbols))
			return
		}
		s.symbols = append(s.symbols, change.symbol)
	case changeRemove:
		out := s.symbols[:0]
		for _, sym := range s.symbols {
			if sym != change.symbol {
				out = append(out, sym)
			}
		}
		s.symbols = out
		delete(s.bySymbol, change.symbol)
		delete(s.instrument, change.symbol)
	}
}

// applyPendingChanges resolves every symbol in the current set that has
// no instrument yet (a newly added one), so a changed subscription
// picks up its instrument ID before Run reopens it. Symbols that fail
// to resolve are dropped from the set; already-resolved symbols are
// not resolved again here.
func (s *Supervisor) applyPendingChanges(ctx context.Context) {
	s.mu.Lock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	unresolved := make([]string, 0)
	for _, sym := range symbols {
		if _, ok := s.instrument[sym]; !ok {
			unresolved = append(unresolved, sym)
		}
	}
	if len(unresolved) == 0 {
		return
	}
	if err := s.resolveAll(ctx, unresolved); err != nil {
		s.logger.Error("failed to resolve newly added symbols, dropping them", zap.Error(err))
		s.mu.Lock()
		for _, sym := range unresolved {
			out := s.symbols[:0]
			for _, existing := range s.symbols {
				if existing != sym {
					out = append(out, existing)
				}
			}
			s.symbols = out
		}
		s.mu.Unlock()
	}
}

// resolveAll resolves every symbol in symbols, creating a SymbolState
// for any that don't already have one. Resolution is all-or-nothing:
// every unresolvable symbol is collected into a single aggregate error
// via multierr rather than failing fast on the first one.
func (s *Supervisor) resolveAll(ctx context.Context, symbols []string) error {
	var errs error
	for _, sym := range symbols {
		inst, err := s.resolver.Resolve(ctx, sym)
		if err != nil {
			errs = multierr.Append(errs, &ResolverError{Symbol: sym, Err: err})
			continue
		}

		s.mu.Lock()
		s.instrument[sym] = inst
		s.byInstID[inst.InstrumentID] = sym
		if _, exists := s.bySymbol[sym]; !exists {
			s.bySymbol[sym] = walldetector.NewSymbolState(sym, s.cfg.Detector, inst.TickSize)
		} else {
			s.bySymbol[sym].TickSize = inst.TickSize
		}
		s.mu.Unlock()
	}
	if errs != nil {
		return errs
	}
	return nil
}

func (s *Supervisor) instrumentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.instrument))
	for _, inst := range s.instrument {
		ids = append(ids, inst.InstrumentID)
	}
	sort.Strings(ids)
	return ids
}

// handleFrame converts a transport frame to a detector input, advances
// the matching symbol's detector, and dispatches any emitted events to
// every registered sink. A DetectorLogicError is logged at ERROR and
// the frame is dropped; it never kills the ingestion loop.
func (s *Supervisor) handleFrame(frame transport.Frame) {
	now := s.clock.now()

	switch {
	case frame.Depth != nil:
		s.observeLag(now, frame.Depth.ReceivedAt)
		s.handleDepth(*frame.Depth, now)
	case frame.Trade != nil:
		s.observeLag(now, frame.Trade.Timestamp)
		s.handleTrade(*frame.Trade, now)
	}
}

// observeLag records the wall-clock delay between a frame's receipt
// (as stamped by the transport, in Unix nanoseconds) and the moment the
// supervisor goroutine got around to processing it.
func (s *Supervisor) observeLag(now walldetector.Now, receivedAtUnixNano int64) {
	if s.metrics == nil {
		return
	}
	lag := float64(now.Wall.UnixNano()-receivedAtUnixNano) / 1e9
	if lag >= 0 {
		s.metrics.FrameProcessingLag.Observe(lag)
	}
}

func (s *Supervisor) handleDepth(df transport.DepthFrame, now walldetector.Now) {
	s.mu.Lock()
	sym, ok := s.byInstID[df.InstrumentID]
	var state *walldetector.SymbolState
	var inst transport.Instrument
	if ok {
		state = s.bySymbol[sym]
		inst = s.instrument[sym]
	}
	s.mu.Unlock()
	if !ok || state == nil {
		return
	}

	bids := toLevels(df.Bids)
	asks := toLevels(df.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	snap := book.Snapshot{
		Symbol:       sym,
		InstrumentID: df.InstrumentID,
		TickSize:     inst.TickSize,
		Bids:         bids,
		Asks:         asks,
		Depth:        s.cfg.Supervisor.Depth,
		ReceivedAt:   now.Mono,
	}

	evs, err := walldetector.Advance(state, walldetector.BookInput{Snapshot: snap}, now)
	if err != nil {
		s.logger.Error("detector logic error, dropping frame", zap.String("symbol", sym), zap.Error(err))
		if s.metrics != nil {
			s.metrics.DetectorErrors.WithLabelValues(sym).Inc()
		}
		return
	}
	s.dispatch(evs)

	if s.metrics != nil {
		s.metrics.CandidatesTracked.WithLabelValues(sym).Set(float64(len(state.Candidates)))
	}
}

func (s *Supervisor) handleTrade(tf transport.TradeFrame, now walldetector.Now) {
	s.mu.Lock()
	sym, ok := s.byInstID[tf.InstrumentID]
	var state *walldetector.SymbolState
	if ok {
		state = s.bySymbol[sym]
	}
	s.mu.Unlock()
	if !ok || state == nil {
		return
	}

	side := tradewindow.SideBuyer
	if tf.Side == "seller" {
		side = tradewindow.SideSeller
	}

	trade := tradewindow.Trade{Price: tf.Price, Quantity: tf.Quantity, Side: side, Timestamp: now.Mono}
	_, _ = walldetector.Advance(state, walldetector.TradeInput{Trade: trade}, now)
}

func (s *Supervisor) dispatch(evs []events.Event) {
	for _, ev := range evs {
		if s.metrics != nil {
			s.metrics.EventsEmitted.WithLabelValues(ev.GetSymbol(), string(ev.GetKind())).Inc()
		}
		for _, sk := range s.sinks {
			sk.Push(ev)
		}
	}
}

func (s *Supervisor) snapshotStatus() Status {
	s.mu.Lock()
	symbols := append([]string(nil), s.symbols...)
	counts := make(map[string]int, len(s.bySymbol))
	for sym, st := range s.bySymbol {
		counts[sym] = len(st.Candidates)
	}
	s.mu.Unlock()

	sinkStats := make(map[string]sink.Stats, len(s.sinks))
	for _, sk := range s.sinks {
		sinkStats[sk.Name()] = sk.Stats()
	}

	return Status{Symbols: symbols, CandidateCounts: counts, SinkStats: sinkStats}
}

func toLevels(raw []transport.PriceQty) []book.PriceLevel {
	out := make([]book.PriceLevel, len(raw))
	for i, pq := range raw {
		out[i] = book.PriceLevel{Price: pq.Price, Quantity: pq.Quantity}
	}
	return out
}
