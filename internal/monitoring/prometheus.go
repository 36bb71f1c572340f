package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector backs MetricsCollector with a Prometheus registry.
// Vectors are created on first use; the label set of a metric is fixed by
// that first observation and later tags are projected onto it.
type PrometheusCollector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}
}

// Registry exposes the underlying registry for gathering in tests.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusCollector) IncrementCounter(name string, tags map[string]string) {
	p.IncrementCounterBy(name, 1, tags)
}

func (p *PrometheusCollector) IncrementCounterBy(name string, value int64, tags map[string]string) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, p.labelNames(name, tags))
		if !p.register(vec) {
			p.mu.Unlock()
			return
		}
		p.counters[name] = vec
	}
	values := p.labelValues(name, tags)
	p.mu.Unlock()
	vec.WithLabelValues(values...).Add(float64(value))
}

func (p *PrometheusCollector) SetGauge(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, p.labelNames(name, tags))
		if !p.register(vec) {
			p.mu.Unlock()
			return
		}
		p.gauges[name] = vec
	}
	values := p.labelValues(name, tags)
	p.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

func (p *PrometheusCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, p.labelNames(name, tags))
		if !p.register(vec) {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = vec
	}
	values := p.labelValues(name, tags)
	p.mu.Unlock()
	vec.WithLabelValues(values...).Observe(duration.Seconds())
}

// register reports false when the name clashes with a metric of another kind.
func (p *PrometheusCollector) register(c prometheus.Collector) bool {
	return p.registry.Register(c) == nil
}

func (p *PrometheusCollector) labelNames(name string, tags map[string]string) []string {
	names := sortedKeys(tags)
	p.labels[name] = names
	return names
}

func (p *PrometheusCollector) labelValues(name string, tags map[string]string) []string {
	names := p.labels[name]
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = tags[n]
	}
	return values
}
