package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusMirror lazily registers a counter/gauge/histogram per metric
// name, scoped under the auditrail namespace, into its own registry
// rather than the global DefaultRegisterer — so that constructing more
// than one Collector (multiple tests, or a future multi-tenant shard)
// never collides on a duplicate registration.
type prometheusMirror struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

func newPrometheusMirror() *prometheusMirror {
	return &prometheusMirror{
		registry:   prometheus.NewRegistry(),
		counters:   map[string]prometheus.Counter{},
		gauges:     map[string]prometheus.Gauge{},
		histograms: map[string]prometheus.Histogram{},
	}
}

func (m *prometheusMirror) counter(name string) prometheus.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "auditrail", Name: name})
	m.registry.MustRegister(c)
	m.counters[name] = c
	return c
}

func (m *prometheusMirror) gauge(name string) prometheus.Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "auditrail", Name: name})
	m.registry.MustRegister(g)
	m.gauges[name] = g
	return g
}

func (m *prometheusMirror) histogram(name string) prometheus.Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "auditrail", Name: name})
	m.registry.MustRegister(h)
	m.histograms[name] = h
	return h
}
