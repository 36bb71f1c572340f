package notes

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phicache"
)

func TestCache_SetGetHas(t *testing.T) {
	metrics := monitoring.NewInMemoryMetricsCollector()
	c := NewCache(nil, WithCacheMetrics(metrics))

	note := ClinicalNote{ID: "n1", PatientID: "p1", Subjective: textPtr("dor"), VitalSigns: map[string]any{"bp": "12/8"}}
	c.Set("n1", "u1", note)

	assert.True(t, c.Has("n1"))
	assert.False(t, c.Has("n2"))

	got, ok := c.Get("n1", "u1")
	require.True(t, ok)
	assert.Equal(t, note, got)

	_, ok = c.Get("n1", "u2")
	assert.False(t, ok, "entries are scoped to the owner that decrypted them")

	got.VitalSigns["bp"] = "changed"
	again, _ := c.Get("n1", "u1")
	assert.Equal(t, "12/8", again.VitalSigns["bp"], "callers get copies")

	tags := map[string]string{"cache": CacheName}
	assert.Equal(t, int64(2), metrics.GetCounter(monitoring.MetricCacheHits, tags))
	assert.Equal(t, int64(1), metrics.GetCounter(monitoring.MetricCacheMisses, tags))
	assert.Equal(t, float64(1), metrics.GetGauge(monitoring.MetricCacheEntries, tags))
}

func TestCache_Unbounded(t *testing.T) {
	c := NewCache(nil)
	for i := 0; i < 1000; i++ {
		c.Set(fmt.Sprintf("note-%d", i), "u1", ClinicalNote{})
	}
	assert.Equal(t, 1000, c.Len())
}

func TestCache_LRUEviction(t *testing.T) {
	metrics := monitoring.NewInMemoryMetricsCollector()
	c := NewCache(nil, WithCapacity(2), WithCacheMetrics(metrics))

	c.Set("a", "u1", ClinicalNote{ID: "a"})
	c.Set("b", "u1", ClinicalNote{ID: "b"})
	_, ok := c.Get("a", "u1")
	require.True(t, ok)

	c.Set("c", "u1", ClinicalNote{ID: "c"})

	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"), "least recently used entry is evicted")
	assert.True(t, c.Has("c"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(1), metrics.GetCounter(monitoring.MetricCacheEvicted, map[string]string{"cache": CacheName}))
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := NewCache(nil)
	c.Set("a", "u1", ClinicalNote{})
	c.Set("b", "u1", ClinicalNote{})

	c.Delete("a")
	c.Delete("missing")
	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear())
	assert.Zero(t, c.Len())
}

func TestCache_RegistersWithManager(t *testing.T) {
	m := phicache.NewManager(nil, nil)
	c := NewCache(m)
	c.Set("a", "u1", ClinicalNote{})

	assert.Equal(t, []string{CacheName}, m.Names())
	m.ClearAll()
	assert.Zero(t, c.Len())
}

func TestCache_CopiesAreDeep(t *testing.T) {
	c := NewCache(nil)
	note := ClinicalNote{
		ID:         "n1",
		Subjective: textPtr("dor"),
		Plan:       structuredPtr(map[string]any{"sessions": []any{float64(1), float64(2)}}),
		FunctionalTests: map[string]any{
			"tug": map[string]any{"seconds": float64(12)},
		},
	}
	c.Set("n1", "u1", note)

	// The caller's own value is not shared either.
	note.Subjective.text = "changed"

	got, ok := c.Get("n1", "u1")
	require.True(t, ok)
	*got.Subjective = Text("changed")
	got.Plan.Value().(map[string]any)["sessions"].([]any)[0] = "changed"
	got.FunctionalTests["tug"].(map[string]any)["seconds"] = "changed"

	again, ok := c.Get("n1", "u1")
	require.True(t, ok)
	assert.Equal(t, "dor", again.Subjective.String())
	assert.Equal(t, []any{float64(1), float64(2)}, again.Plan.Value().(map[string]any)["sessions"])
	assert.Equal(t, float64(12), again.FunctionalTests["tug"].(map[string]any)["seconds"])
}

func TestCache_SetIfCurrent(t *testing.T) {
	metrics := monitoring.NewInMemoryMetricsCollector()
	c := NewCache(nil, WithCacheMetrics(metrics))
	note := ClinicalNote{ID: "n1"}

	tests := []struct {
		name       string
		invalidate func(c *Cache)
		want       bool
	}{
		{name: "untouched", invalidate: func(*Cache) {}, want: true},
		{name: "same id deleted", invalidate: func(c *Cache) { c.Delete("n1") }, want: false},
		{name: "other id deleted", invalidate: func(c *Cache) { c.Delete("n2") }, want: true},
		{name: "cleared", invalidate: func(c *Cache) { require.NoError(t, c.Clear()) }, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, c.Clear())
			stamp := c.Stamp()
			tt.invalidate(c)
			assert.Equal(t, tt.want, c.SetIfCurrent("n1", "u1", note, stamp))
			assert.Equal(t, tt.want, c.Has("n1"))
		})
	}
	assert.Equal(t, int64(2), metrics.GetCounter(monitoring.MetricCacheStaleFills, map[string]string{"cache": CacheName}))

	// A fresh stamp after the invalidation is accepted again.
	c.Delete("n1")
	assert.True(t, c.SetIfCurrent("n1", "u1", note, c.Stamp()))
}

func TestCache_InvalidationLogIsBounded(t *testing.T) {
	c := NewCache(nil)
	stamp := c.Stamp()
	for i := 0; i <= maxInvalidations; i++ {
		c.Delete(fmt.Sprintf("n%d", i))
	}
	assert.LessOrEqual(t, len(c.invalidated), maxInvalidations)
	assert.False(t, c.SetIfCurrent("other", "u1", ClinicalNote{}, stamp), "stamps older than a log reset are rejected")
	assert.True(t, c.SetIfCurrent("other", "u1", ClinicalNote{}, c.Stamp()))
}
