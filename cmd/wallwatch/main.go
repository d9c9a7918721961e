// Command wallwatch runs the wall-detection pipeline end to end:
// resolve instruments, subscribe over the bundled websocket transport,
// advance the per-symbol detector on every frame, and dispatch emitted
// events to the configured sinks. Exit codes follow the application's
// fatal-error taxonomy: 0 clean shutdown, 2 config error, 3 auth or
// resolver error, 4 unrecoverable transport error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wallwatch/wallwatch/internal/config"
	"github.com/wallwatch/wallwatch/internal/metrics"
	"github.com/wallwatch/wallwatch/internal/sink"
	"github.com/wallwatch/wallwatch/internal/supervisor"
	"github.com/wallwatch/wallwatch/internal/transport"
)

const (
	exitClean           = 0
	exitConfigError     = 2
	exitResolverError   = 3
	exitTransportFatal  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wallwatch: failed to build logger: %v\n", err)
		return exitConfigError
	}
	defer logger.Sync()

	cfg, err := config.NewLoader().LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return exitConfigError
	}

	resolver, err := buildResolver(*cfg)
	if err != nil {
		logger.Error("failed to build instrument resolver", zap.Error(err))
		return exitConfigError
	}

	tp := transport.NewWebSocketTransport(cfg.Transport.URL, logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	sinks, stopSinks, err := buildSinks(*cfg, logger)
	if err != nil {
		logger.Error("failed to build sinks", zap.Error(err))
		return exitConfigError
	}

	sup := supervisor.New(*cfg, tp, resolver, sinks, m, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, qs := range sinks {
		go qs.Run(ctx)
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, registry, logger)
		go func() {
			if err := metricsServer.Run(ctx); err != nil {
				logger.Warn("metrics server stopped with error", zap.Error(err))
			}
		}()
	}

	logger.Info("wallwatch starting", zap.Strings("symbols", cfg.Symbols))

	runErr := sup.Run(ctx)
	stopSinks()

	if runErr == nil {
		logger.Info("wallwatch shutdown complete")
		return exitClean
	}

	var resolverErr *supervisor.ResolverError
	var authErr *supervisor.AuthPermanentError
	var unrecoverable *supervisor.UnrecoverableTransportError
	switch {
	case errors.As(runErr, &resolverErr):
		logger.Error("fatal: instrument resolution failed", zap.Error(runErr))
		return exitResolverError
	case errors.As(runErr, &authErr):
		logger.Error("fatal: authentication rejected", zap.Error(runErr))
		return exitResolverError
	case errors.As(runErr, &unrecoverable):
		logger.Error("fatal: unrecoverable transport error", zap.Error(runErr))
		return exitTransportFatal
	default:
		logger.Error("fatal: unexpected supervisor error", zap.Error(runErr))
		return exitTransportFatal
	}
}

func buildLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stdout"}
	return zcfg.Build()
}

func buildResolver(cfg config.Config) (transport.Resolver, error) {
	table := make(map[string]transport.Instrument, len(cfg.Instruments))
	for symbol, spec := range cfg.Instruments {
		tick, err := transport.ParseTickSize(spec.TickSize)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", symbol, err)
		}
		table[symbol] = transport.Instrument{InstrumentID: spec.InstrumentID, TickSize: tick, PriceScale: spec.PriceScale}
	}
	return transport.NewStaticResolver(table), nil
}

// buildSinks wires the console sink (always on) and the Redis sink
// (when cfg.Redis.Host is non-empty; a config read by config.Loader
// always has a host, since ApplyDefaults fills an empty one with
// "localhost"), each wrapped in a
// QueuedSink so a slow or unreachable sink never stalls ingestion.
func buildSinks(cfg config.Config, logger *zap.Logger) ([]*sink.QueuedSink, func(), error) {
	var sinks []*sink.QueuedSink
	var closers []func()

	sinks = append(sinks, sink.NewQueuedSink(sink.NewConsoleSink(logger), 256, logger))

	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, sink.NewQueuedSink(sink.NewRedisSink(client, cfg.Redis.Channel, logger), 256, logger))
		closers = append(closers, func() { client.Close() })
	}

	stop := func() {
		for _, c := range closers {
			c()
		}
	}
	return sinks, stop, nil
}
