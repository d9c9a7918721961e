package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/wallwatch/wallwatch/internal/events"
)

// ConsoleSink logs each event via zap, the way a chat-bot formatter or
// debug sink would render alerts for a human to read.
type ConsoleSink struct {
	logger *zap.Logger
}

// NewConsoleSink creates a console sink.
func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger.Named("console_sink")}
}

func (s *ConsoleSink) Name() string { return "console" }

// Deliver logs ev at INFO. It never fails; failure only arises in
// sinks with an external dependency.
func (s *ConsoleSink) Deliver(_ context.Context, ev events.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.GetKind())),
		zap.String("symbol", ev.GetSymbol()),
		zap.String("side", string(ev.GetSide())),
		zap.String("price", ev.GetPrice().String()),
		zap.Time("at", ev.GetAt()),
	}

	switch e := ev.(type) {
	case events.WallCandidate:
		fields = append(fields, zap.Int64("quantity", e.Quantity), zap.Int64("distance_ticks", e.DistanceTicks))
	case events.WallConfirmed:
		fields = append(fields, zap.Int64("quantity", e.Quantity), zap.Float64("dwell_seconds", e.DwellSeconds))
	case events.WallConsuming:
		fields = append(fields,
			zap.Int64("quantity_before", e.QuantityBefore),
			zap.Int64("quantity_now", e.QuantityNow),
			zap.Float64("drop_pct", e.DropPct),
			zap.Int64("executed_volume", e.ExecutedVolume),
		)
	case events.WallLost:
		fields = append(fields,
			zap.Int64("last_quantity", e.LastQuantity),
			zap.Float64("age_seconds", e.AgeSeconds),
			zap.String("previous_state", e.PreviousState),
		)
	}

	s.logger.Info("wall event", fields...)
	return nil
}
