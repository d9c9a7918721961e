package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersDistinctCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventsEmitted.WithLabelValues("BTC-USD", "wall_candidate").Inc()
	m.DetectorErrors.WithLabelValues("BTC-USD").Inc()
	m.CandidatesTracked.WithLabelValues("BTC-USD").Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "wallwatch_events_emitted_total" {
			found = true
			if len(f.Metric) != 1 {
				t.Fatalf("expected exactly one events_emitted series, got %d", len(f.Metric))
			}
		}
	}
	if !found {
		t.Fatalf("expected wallwatch_events_emitted_total to be registered")
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	if New(reg1) == nil || New(reg2) == nil {
		t.Fatalf("expected independent Metrics instances on independent registries")
	}
}
