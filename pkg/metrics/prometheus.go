package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prom is a Collector backed by client_golang. Vectors are created
// lazily per metric name on first use since the engine's call sites
// don't pre-declare their label sets.
type Prom struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewProm creates a Prom collector registering metrics on reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewProm(reg prometheus.Registerer) *Prom {
	return &Prom{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (p *Prom) IncCounter(name string, labels map[string]string, delta float64) {
	p.mu.Lock()
	cv, ok := p.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		p.reg.MustRegister(cv)
		p.counters[name] = cv
	}
	p.mu.Unlock()
	cv.With(labels).Add(delta)
}

func (p *Prom) SetGauge(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	gv, ok := p.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		p.reg.MustRegister(gv)
		p.gauges[name] = gv
	}
	p.mu.Unlock()
	gv.With(labels).Set(value)
}

func (p *Prom) ObserveHistogram(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	hv, ok := p.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labelNames(labels))
		p.reg.MustRegister(hv)
		p.histograms[name] = hv
	}
	p.mu.Unlock()
	hv.With(labels).Observe(value)
}
