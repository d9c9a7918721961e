// Package config defines WallWatch's runtime configuration and the
// defaulting/alias rules applied when it is loaded from YAML.
package config

import (
	"fmt"

	"github.com/wallwatch/wallwatch/internal/events"
)

// Config is the complete application configuration.
type Config struct {
	Symbols     []string                  `yaml:"symbols"`
	Detector    DetectorConfig            `yaml:"detector"`
	Supervisor  SupervisorConfig          `yaml:"supervisor"`
	Redis       RedisConfig               `yaml:"redis"`
	Metrics     MetricsConfig             `yaml:"metrics"`
	Instruments map[string]InstrumentSpec `yaml:"instruments"`
	Transport   TransportConfig           `yaml:"transport"`
}

// InstrumentSpec is the static symbol -> instrument mapping used by the
// bundled resolver. A production deployment would replace this with a
// resolver backed by the exchange's instrument-metadata API; this
// mapping exists so the reference binary is runnable end-to-end
// against a fixture transport.
type InstrumentSpec struct {
	InstrumentID string `yaml:"instrument_id"`
	TickSize     string `yaml:"tick_size"`
	PriceScale   int32  `yaml:"price_scale"`
}

// TransportConfig configures the bundled websocket transport.
type TransportConfig struct {
	URL string `yaml:"url"`
}

// DetectorConfig holds the per-symbol wall-detection thresholds passed
// into every SymbolState at creation. It is immutable once constructed;
// reconfiguration requires a supervisor restart, not a live mutation.
type DetectorConfig struct {
	TopNLevels                int                `yaml:"top_n_levels"`
	CandidateRatioToMedian    float64            `yaml:"candidate_ratio_to_median"`
	CandidateMaxDistanceTicks int64              `yaml:"candidate_max_distance_ticks"`
	AbsQtyThreshold           int64              `yaml:"abs_qty_threshold"`
	ConfirmDwellSeconds       float64            `yaml:"confirm_dwell_seconds"`
	ConfirmMaxDistanceTicks   int64              `yaml:"confirm_max_distance_ticks"`
	ConfirmShrinkTolerance    float64            `yaml:"confirm_shrink_tolerance"`
	ConsumeWindowSeconds      float64            `yaml:"consume_window_seconds"`
	ConsumeDropPct            float64            `yaml:"consume_drop_pct"`
	MinExecConfirm            int64              `yaml:"min_exec_confirm"`
	TeleportReset             bool               `yaml:"teleport_reset"`
	CooldownSeconds           map[events.Kind]float64 `yaml:"cooldown_seconds"`
}

// SupervisorConfig holds ingestion-loop tuning: depth requested
// upstream, symbol cap, idle-guard and reconnect backoff.
type SupervisorConfig struct {
	Depth                    int     `yaml:"depth"`
	MaxSymbols               int     `yaml:"max_symbols"`
	StreamIdleSleepSeconds   float64 `yaml:"stream_idle_sleep_seconds"`
	RetryBackoffInitialSecs  float64 `yaml:"retry_backoff_initial_seconds"`
	RetryBackoffMaxSeconds   float64 `yaml:"retry_backoff_max_seconds"`
}

// RedisConfig configures the optional Redis pub/sub sink.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// MetricsConfig configures the Prometheus HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Address returns the Redis "host:port" dial target.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns a Config with every default from the configuration
// table applied.
func Default() Config {
	return Config{
		Detector: DetectorConfig{
			TopNLevels:                5,
			CandidateRatioToMedian:    10.0,
			CandidateMaxDistanceTicks: 10,
			AbsQtyThreshold:           0,
			ConfirmDwellSeconds:       30.0,
			ConfirmMaxDistanceTicks:   1,
			ConfirmShrinkTolerance:    0.10,
			ConsumeWindowSeconds:      8.0,
			ConsumeDropPct:            0.20,
			MinExecConfirm:            50,
			TeleportReset:             true,
			CooldownSeconds: map[events.Kind]float64{
				events.KindCandidate: 60,
				events.KindConfirmed: 120,
				events.KindConsuming: 45,
				events.KindLost:      0,
			},
		},
		Supervisor: SupervisorConfig{
			Depth:                   20,
			MaxSymbols:              10,
			StreamIdleSleepSeconds:  3600,
			RetryBackoffInitialSecs: 1.0,
			RetryBackoffMaxSeconds:  30.0,
		},
		Redis: RedisConfig{
			Host:    "localhost",
			Port:    6379,
			Channel: "wallwatch:events",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9464",
		},
	}
}

// ApplyDefaults fills zero-valued numeric and string fields of c with
// the matching default, and adds any missing cooldown kinds, the way
// the teacher's ConfigLoader.LoadConfig fills in Redis.Host/Redis.Port
// after unmarshaling. Boolean fields (Detector.TeleportReset,
// Metrics.Enabled) are left as they are.
func (c *Config) ApplyDefaults() {
	d := Default()

	if c.Detector.TopNLevels == 0 {
		c.Detector.TopNLevels = d.Detector.TopNLevels
	}
	if c.Detector.CandidateRatioToMedian == 0 {
		c.Detector.CandidateRatioToMedian = d.Detector.CandidateRatioToMedian
	}
	if c.Detector.CandidateMaxDistanceTicks == 0 {
		c.Detector.CandidateMaxDistanceTicks = d.Detector.CandidateMaxDistanceTicks
	}
	if c.Detector.ConfirmDwellSeconds == 0 {
		c.Detector.ConfirmDwellSeconds = d.Detector.ConfirmDwellSeconds
	}
	if c.Detector.ConfirmMaxDistanceTicks == 0 {
		c.Detector.ConfirmMaxDistanceTicks = d.Detector.ConfirmMaxDistanceTicks
	}
	if c.Detector.ConfirmShrinkTolerance == 0 {
		c.Detector.ConfirmShrinkTolerance = d.Detector.ConfirmShrinkTolerance
	}
	if c.Detector.ConsumeWindowSeconds == 0 {
		c.Detector.ConsumeWindowSeconds = d.Detector.ConsumeWindowSeconds
	}
	if c.Detector.ConsumeDropPct == 0 {
		c.Detector.ConsumeDropPct = d.Detector.ConsumeDropPct
	}
	if c.Detector.MinExecConfirm == 0 {
		c.Detector.MinExecConfirm = d.Detector.MinExecConfirm
	}
	if c.Detector.CooldownSeconds == nil {
		c.Detector.CooldownSeconds = d.Detector.CooldownSeconds
	} else {
		for k, v := range d.Detector.CooldownSeconds {
			if _, ok := c.Detector.CooldownSeconds[k]; !ok {
				c.Detector.CooldownSeconds[k] = v
			}
		}
	}

	if c.Supervisor.Depth == 0 {
		c.Supervisor.Depth = d.Supervisor.Depth
	}
	if c.Supervisor.MaxSymbols == 0 {
		c.Supervisor.MaxSymbols = d.Supervisor.MaxSymbols
	}
	if c.Supervisor.StreamIdleSleepSeconds == 0 {
		c.Supervisor.StreamIdleSleepSeconds = d.Supervisor.StreamIdleSleepSeconds
	}
	if c.Supervisor.RetryBackoffInitialSecs == 0 {
		c.Supervisor.RetryBackoffInitialSecs = d.Supervisor.RetryBackoffInitialSecs
	}
	if c.Supervisor.RetryBackoffMaxSeconds == 0 {
		c.Supervisor.RetryBackoffMaxSeconds = d.Supervisor.RetryBackoffMaxSeconds
	}

	if c.Redis.Host == "" {
		c.Redis.Host = d.Redis.Host
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = d.Redis.Port
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = d.Redis.Channel
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = d.Metrics.Addr
	}
}

// Validate reports a ConfigError-class problem with c, if any.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	if len(c.Symbols) > c.Supervisor.MaxSymbols {
		return fmt.Errorf("config: %d symbols exceeds max_symbols=%d", len(c.Symbols), c.Supervisor.MaxSymbols)
	}
	if c.Detector.ConsumeDropPct <= 0 || c.Detector.ConsumeDropPct > 1 {
		return fmt.Errorf("config: consume_drop_pct must be in (0,1], got %v", c.Detector.ConsumeDropPct)
	}
	if c.Detector.CandidateRatioToMedian < 0 {
		return fmt.Errorf("config: candidate_ratio_to_median must be non-negative")
	}
	return nil
}
