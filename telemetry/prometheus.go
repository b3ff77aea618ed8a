package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics adapts github.com/prometheus/client_golang to the
// Metrics interface. Vectors are created lazily per metric name since
// callers pass free-form names (event types, tool names, provider ids).
type PrometheusMetrics struct {
	reg *prometheus.Registry

	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	timers    map[string]*prometheus.HistogramVec
	gauges    map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics builds a Metrics recorder registered against reg.
func NewPrometheusMetrics(reg *prometheus.Registry) *PrometheusMetrics {
	return &PrometheusMetrics{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		timers:   make(map[string]*prometheus.HistogramVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	labels, values := splitTags(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitize(name)}, labels)
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.WithLabelValues(values...).Add(value)
}

func (m *PrometheusMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	labels, values := splitTags(tags)
	m.mu.Lock()
	h, ok := m.timers[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: sanitize(name)}, labels)
		m.reg.MustRegister(h)
		m.timers[name] = h
	}
	m.mu.Unlock()
	h.WithLabelValues(values...).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	labels, values := splitTags(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitize(name)}, labels)
		m.reg.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.WithLabelValues(values...).Set(value)
}

// splitTags turns a flat "k1", "v1", "k2", "v2" tag list into Prometheus
// label names and values, in stable order.
func splitTags(tags []string) (labels, values []string) {
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
		values = append(values, tags[i+1])
	}
	return labels, values
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
