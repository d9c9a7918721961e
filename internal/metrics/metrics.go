// Package metrics exposes WallWatch's Prometheus instrumentation,
// grounded on the teacher's prometheus_metrics.go registration pattern:
// one struct of pre-registered vectors, constructed once and passed by
// reference into every component that needs to record a measurement.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownGrace = 5 * time.Second

// Metrics holds every WallWatch Prometheus collector.
type Metrics struct {
	EventsEmitted      *prometheus.CounterVec
	DetectorErrors     *prometheus.CounterVec
	Reconnects         *prometheus.CounterVec
	BackoffSeconds     prometheus.Histogram
	CandidatesTracked  *prometheus.GaugeVec
	FrameProcessingLag prometheus.Histogram
}

// New registers and returns the WallWatch collector set against reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry across repeated construction.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallwatch_events_emitted_total",
			Help: "Count of wall lifecycle events emitted, by symbol and kind.",
		}, []string{"symbol", "kind"}),

		DetectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallwatch_detector_errors_total",
			Help: "Count of detector logic errors (dropped frames), by symbol.",
		}, []string{"symbol"}),

		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallwatch_transport_reconnects_total",
			Help: "Count of transport reconnect attempts, by outcome.",
		}, []string{"outcome"}),

		BackoffSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallwatch_reconnect_backoff_seconds",
			Help:    "Backoff duration slept before each reconnect attempt.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),

		CandidatesTracked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallwatch_candidates_tracked",
			Help: "Current number of tracked wall candidates, by symbol.",
		}, []string{"symbol"}),

		FrameProcessingLag: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallwatch_frame_processing_lag_seconds",
			Help:    "Wall-clock delay between frame receipt and detector processing.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Server serves the /metrics exposition endpoint used by the
// supervisor's operational surface.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds (but does not start) an HTTP server exposing the
// registry at addr.
func NewServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		logger:     logger.Named("metrics_server"),
	}
}

// Run starts the server and blocks until ctx is cancelled, at which
// point it shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
