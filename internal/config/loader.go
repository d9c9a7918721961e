package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wallwatch/wallwatch/internal/events"
)

// detectorYAML decodes the "detector" YAML section under both the
// coherent new field names and the older parameter-set dialect named
// in SPEC_FULL.md's open-question decision: dwell_seconds/k_ratio/
// Emin/Amin/cancel_share_max. Both are accepted; the new name wins
// when both are present in the same file.
type detectorYAML struct {
	TopNLevels                int                     `yaml:"top_n_levels"`
	CandidateRatioToMedian    float64                 `yaml:"candidate_ratio_to_median"`
	CandidateMaxDistanceTicks int64                   `yaml:"candidate_max_distance_ticks"`
	AbsQtyThreshold           int64                   `yaml:"abs_qty_threshold"`
	ConfirmDwellSeconds       float64                 `yaml:"confirm_dwell_seconds"`
	ConfirmMaxDistanceTicks   int64                   `yaml:"confirm_max_distance_ticks"`
	ConfirmShrinkTolerance    float64                 `yaml:"confirm_shrink_tolerance"`
	ConsumeWindowSeconds      float64                 `yaml:"consume_window_seconds"`
	ConsumeDropPct            float64                 `yaml:"consume_drop_pct"`
	MinExecConfirm            int64                   `yaml:"min_exec_confirm"`
	TeleportReset             *bool                   `yaml:"teleport_reset"`
	CooldownSeconds           map[string]float64      `yaml:"cooldown_seconds"`

	// Legacy dialect aliases.
	DwellSeconds   *float64 `yaml:"dwell_seconds"`
	KRatio         *float64 `yaml:"k_ratio"`
	Emin           *int64   `yaml:"Emin"`
	Amin           *int64   `yaml:"Amin"`
	CancelShareMax *float64 `yaml:"cancel_share_max"`
}

// rawConfig is the literal on-disk shape of the config file.
type rawConfig struct {
	Symbols    []string         `yaml:"symbols"`
	Detector   detectorYAML     `yaml:"detector"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	Instruments map[string]InstrumentSpec `yaml:"instruments"`
	Transport   TransportConfig           `yaml:"transport"`
}

// Loader reads and defaults a Config from a YAML file, mirroring the
// teacher's ConfigLoader.LoadConfig.
type Loader struct{}

// NewLoader creates a config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadConfig reads filename, unmarshals it, applies legacy-alias
// mapping and defaulting, and validates the result.
func (l *Loader) LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", filename, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal %s: %w", filename, err)
	}

	cfg := Config{
		Symbols:    raw.Symbols,
		Supervisor: raw.Supervisor,
		Redis:      raw.Redis,
		Metrics:    raw.Metrics,
		Detector:   resolveDetector(raw.Detector),

		Instruments: raw.Instruments,
		Transport:   raw.Transport,
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveDetector builds a DetectorConfig from the decoded YAML
// section, preferring the new field names and falling back to the
// legacy dialect only where the new name was left unset.
func resolveDetector(d detectorYAML) DetectorConfig {
	out := DetectorConfig{
		TopNLevels:                d.TopNLevels,
		CandidateRatioToMedian:    d.CandidateRatioToMedian,
		CandidateMaxDistanceTicks: d.CandidateMaxDistanceTicks,
		AbsQtyThreshold:           d.AbsQtyThreshold,
		ConfirmDwellSeconds:       d.ConfirmDwellSeconds,
		ConfirmMaxDistanceTicks:   d.ConfirmMaxDistanceTicks,
		ConfirmShrinkTolerance:    d.ConfirmShrinkTolerance,
		ConsumeWindowSeconds:      d.ConsumeWindowSeconds,
		ConsumeDropPct:            d.ConsumeDropPct,
		MinExecConfirm:            d.MinExecConfirm,
	}

	// teleport_reset defaults to true (matching Default()); only an
	// explicit "false" in the file turns it off, so the pointer
	// distinguishes "absent" from "present and false".
	if d.TeleportReset == nil {
		out.TeleportReset = true
	} else {
		out.TeleportReset = *d.TeleportReset
	}

	if d.DwellSeconds != nil && out.ConfirmDwellSeconds == 0 {
		out.ConfirmDwellSeconds = *d.DwellSeconds
	}
	if d.KRatio != nil && out.CandidateRatioToMedian == 0 {
		out.CandidateRatioToMedian = *d.KRatio
	}
	if d.Emin != nil && out.AbsQtyThreshold == 0 {
		out.AbsQtyThreshold = *d.Emin
	}
	if d.Amin != nil && out.MinExecConfirm == 0 {
		out.MinExecConfirm = *d.Amin
	}
	if d.CancelShareMax != nil && out.ConsumeDropPct == 0 {
		out.ConsumeDropPct = *d.CancelShareMax
	}

	if len(d.CooldownSeconds) > 0 {
		out.CooldownSeconds = make(map[events.Kind]float64, len(d.CooldownSeconds))
		for k, v := range d.CooldownSeconds {
			out.CooldownSeconds[events.Kind(k)] = v
		}
	}

	return out
}
