package monitoring

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting and reporting metrics
type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	IncrementCounterBy(name string, value int64, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
	RecordTiming(name string, duration time.Duration, tags map[string]string)
}

// NoOpMetricsCollector discards every observation.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) IncrementCounter(string, map[string]string)            {}
func (NoOpMetricsCollector) IncrementCounterBy(string, int64, map[string]string)   {}
func (NoOpMetricsCollector) SetGauge(string, float64, map[string]string)           {}
func (NoOpMetricsCollector) RecordTiming(string, time.Duration, map[string]string) {}

// InMemoryMetricsCollector is an in-memory implementation for testing
type InMemoryMetricsCollector struct {
	mu       sync.RWMutex
	counters map[string]*int64
	gauges   map[string]float64
	timings  map[string][]time.Duration
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters: make(map[string]*int64),
		gauges:   make(map[string]float64),
		timings:  make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	m.IncrementCounterBy(name, 1, tags)
}

func (m *InMemoryMetricsCollector) IncrementCounterBy(name string, value int64, tags map[string]string) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	counter, exists := m.counters[key]
	if !exists {
		counter = new(int64)
		m.counters[key] = counter
	}
	m.mu.Unlock()
	atomic.AddInt64(counter, value)
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	m.gauges[key] = value
	m.mu.Unlock()
}

func (m *InMemoryMetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	m.timings[key] = append(m.timings[key], duration)
	m.mu.Unlock()
}

// GetCounter returns the value of a counter
func (m *InMemoryMetricsCollector) GetCounter(name string, tags map[string]string) int64 {
	m.mu.RLock()
	counter, exists := m.counters[seriesKey(name, tags)]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// GetGauge returns the value of a gauge
func (m *InMemoryMetricsCollector) GetGauge(name string, tags map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[seriesKey(name, tags)]
}

// GetTimings returns a copy of the recorded timings
func (m *InMemoryMetricsCollector) GetTimings(name string, tags map[string]string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.timings[seriesKey(name, tags)]
	timings := make([]time.Duration, len(src))
	copy(timings, src)
	return timings
}

// Reset clears all metrics
func (m *InMemoryMetricsCollector) Reset() {
	m.mu.Lock()
	m.counters = make(map[string]*int64)
	m.gauges = make(map[string]float64)
	m.timings = make(map[string][]time.Duration)
	m.mu.Unlock()
}

// seriesKey renders name and tags in a stable order.
func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := sortedKeys(tags)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(tags[k])
	}
	return b.String()
}

func sortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
