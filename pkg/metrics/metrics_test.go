package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNoopDiscardsEverything(t *testing.T) {
	var c Collector = Noop{}
	// These must not panic; there is nothing else to observe.
	c.IncCounter("puts_total", map[string]string{"op": "put"}, 1)
	c.SetGauge("memtable_bytes", nil, 1024)
	c.ObserveHistogram("flush_seconds", nil, 0.01)
}

func TestPromCreatesVectorsLazilyAndReusesThem(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.IncCounter("puts_total", map[string]string{"op": "put"}, 1)
	p.IncCounter("puts_total", map[string]string{"op": "put"}, 2)
	p.IncCounter("puts_total", map[string]string{"op": "delete"}, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("expected exactly one registered metric family, got %d", len(families))
	}
	mf := families[0]
	if mf.GetName() != "puts_total" {
		t.Fatalf("metric name = %q, want puts_total", mf.GetName())
	}
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected two label combinations, got %d", len(mf.GetMetric()))
	}
}

func TestPromGaugeAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.SetGauge("memtable_bytes", map[string]string{"db": "default"}, 2048)
	p.ObserveHistogram("flush_seconds", map[string]string{"db": "default"}, 0.25)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("expected two registered metric families, got %d", len(families))
	}
}
