package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpMetricsCollector(t *testing.T) {
	var collector MetricsCollector = NoOpMetricsCollector{}
	tags := map[string]string{"test": "value"}

	assert.NotPanics(t, func() {
		collector.IncrementCounter("test_counter", tags)
		collector.IncrementCounterBy("test_counter", 5, tags)
		collector.SetGauge("test_gauge", 42.5, tags)
		collector.RecordTiming("test_timing", time.Millisecond, tags)
	})
}

func TestInMemoryMetricsCollector_Counters(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	tags := map[string]string{"operation": "encrypt", "outcome": "success"}

	collector.IncrementCounter(MetricFieldEncrypt, tags)
	collector.IncrementCounter(MetricFieldEncrypt, tags)
	collector.IncrementCounterBy(MetricFieldEncrypt, 3, tags)

	assert.Equal(t, int64(5), collector.GetCounter(MetricFieldEncrypt, tags))
	assert.Equal(t, int64(0), collector.GetCounter(MetricFieldEncrypt, map[string]string{"outcome": "error"}))

	// Tag order must not matter.
	reordered := map[string]string{"outcome": "success", "operation": "encrypt"}
	assert.Equal(t, int64(5), collector.GetCounter(MetricFieldEncrypt, reordered))
}

func TestInMemoryMetricsCollector_GaugesAndTimings(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.SetGauge(MetricCacheEntries, 3, nil)
	collector.SetGauge(MetricCacheEntries, 7, nil)
	assert.Equal(t, float64(7), collector.GetGauge(MetricCacheEntries, nil))

	collector.RecordTiming(MetricCryptoDuration, time.Millisecond, nil)
	collector.RecordTiming(MetricCryptoDuration, 2*time.Millisecond, nil)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, collector.GetTimings(MetricCryptoDuration, nil))

	collector.Reset()
	assert.Equal(t, float64(0), collector.GetGauge(MetricCacheEntries, nil))
	assert.Empty(t, collector.GetTimings(MetricCryptoDuration, nil))
}

func TestPrometheusCollector(t *testing.T) {
	collector := NewPrometheusCollector()

	collector.IncrementCounter(MetricCacheHits, map[string]string{"cache": "clinical-notes"})
	collector.IncrementCounterBy(MetricCacheHits, 2, map[string]string{"cache": "clinical-notes"})
	collector.SetGauge(MetricCacheEntries, 4, nil)
	collector.RecordTiming(MetricCryptoDuration, 3*time.Millisecond, map[string]string{"operation": "decrypt"})
	// Unknown tags are dropped, missing ones become empty.
	collector.IncrementCounter(MetricCacheHits, map[string]string{"other": "x"})

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found[MetricCacheHits])
	assert.True(t, found[MetricCacheEntries])
	assert.True(t, found[MetricCryptoDuration])

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fisioflow_note_cache_hits_total{cache="clinical-notes"} 3`)
}

func TestPrometheusCollector_KindClash(t *testing.T) {
	collector := NewPrometheusCollector()

	collector.IncrementCounter("clash", nil)
	assert.NotPanics(t, func() {
		collector.SetGauge("clash", 1, nil)
	})
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("debug", format, "fisioflow-notes")
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}
}
