// Package phicache keeps track of every in-memory cache holding decrypted
// PHI so the process can wipe all of them in one call when a session ends
// or the app leaves the foreground.
package phicache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
)

// ClearableCache is implemented by every cache holding decrypted PHI.
type ClearableCache interface {
	Clear() error
}

// ClearFunc adapts a function to ClearableCache.
type ClearFunc func() error

func (f ClearFunc) Clear() error { return f() }

// Manager is the registry of PHI caches. One instance is built per process
// and injected into whatever owns a cache.
type Manager struct {
	mu      sync.RWMutex
	caches  map[string]ClearableCache
	onClear []func()

	logger  *zap.Logger
	metrics monitoring.MetricsCollector
}

// NewManager returns an empty registry. A nil logger or collector is
// replaced by a no-op one.
func NewManager(logger *zap.Logger, metrics monitoring.MetricsCollector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NoOpMetricsCollector{}
	}
	return &Manager{
		caches:  make(map[string]ClearableCache),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds cache under name. Registering a name again replaces the
// previous cache.
func (m *Manager) Register(name string, cache ClearableCache) {
	m.mu.Lock()
	_, replaced := m.caches[name]
	m.caches[name] = cache
	m.mu.Unlock()

	m.logger.Debug("phi cache registered", zap.String("cache", name), zap.Bool("replaced", replaced))
}

// Unregister removes name from the registry.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	delete(m.caches, name)
	m.mu.Unlock()
}

// Names returns the registered cache names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnClearAll registers fn to run after every ClearAll. Wipes triggered
// through ClearLocal do not run it.
func (m *Manager) OnClearAll(fn func()) {
	m.mu.Lock()
	m.onClear = append(m.onClear, fn)
	m.mu.Unlock()
}

// ClearAll wipes every registered cache and then notifies the OnClearAll
// listeners. It never fails: a cache that returns an error or panics is
// logged and the others are still cleared.
func (m *Manager) ClearAll() {
	m.ClearLocal()

	m.mu.RLock()
	listeners := append([]func(){}, m.onClear...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// ClearLocal wipes the caches of this process only.
func (m *Manager) ClearLocal() {
	start := time.Now()

	m.mu.RLock()
	snapshot := make(map[string]ClearableCache, len(m.caches))
	for name, cache := range m.caches {
		snapshot[name] = cache
	}
	m.mu.RUnlock()

	failed := 0
	for name, cache := range snapshot {
		if err := clearOne(cache); err != nil {
			failed++
			m.metrics.IncrementCounter(monitoring.MetricCacheFailures, map[string]string{"cache": name})
			m.logger.Error("failed to clear phi cache", zap.String("cache", name), zap.Error(err))
			continue
		}
		m.metrics.IncrementCounter(monitoring.MetricCacheClears, map[string]string{"cache": name})
	}

	m.logger.Info("phi caches cleared",
		zap.Int("caches", len(snapshot)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
}

func clearOne(cache ClearableCache) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while clearing cache: %v", r)
		}
	}()
	return cache.Clear()
}
