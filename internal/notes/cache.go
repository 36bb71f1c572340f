package notes

import (
	"container/list"
	"sync"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phicache"
)

// CacheName is the name the record cache registers under.
const CacheName = "clinical-notes"

type cacheEntry struct {
	id    string
	owner string
	note  ClinicalNote
}

// maxInvalidations bounds the per-id invalidation log. Past it the log is
// dropped and every older stamp is rejected.
const maxInvalidations = 1024

// Cache holds decrypted notes by record id. An entry is only returned to
// the owner whose key decrypted it. Without a capacity it grows until
// cleared; with one, the least recently used entry is evicted.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	capacity int
	metrics  monitoring.MetricsCollector

	// seq counts invalidations. invalidated holds the seq of the last
	// Delete per id and floor the seq of the last Clear or log reset.
	seq         uint64
	floor       uint64
	invalidated map[string]uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCapacity bounds the number of cached notes. Zero means unbounded.
func WithCapacity(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithCacheMetrics(m monitoring.MetricsCollector) CacheOption {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCache builds a cache and registers it with manager when one is given.
func NewCache(manager *phicache.Manager, opts ...CacheOption) *Cache {
	c := &Cache{
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		metrics:     monitoring.NoOpMetricsCollector{},
		invalidated: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if manager != nil {
		manager.Register(CacheName, c)
	}
	return c
}

// Set stores a copy of note as decrypted by owner, replacing any entry for
// id.
func (c *Cache) Set(id, owner string, note ClinicalNote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(id, owner, note)
}

// Stamp returns a token to take before reading a document from the store.
// Pass it to SetIfCurrent once the document is decrypted.
func (c *Cache) Stamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// SetIfCurrent stores note like Set unless id was deleted or the cache was
// cleared after stamp was taken, in which case the note may be stale and is
// not cached.
func (c *Cache) SetIfCurrent(id, owner string, note ClinicalNote, stamp uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stamp < c.floor || c.invalidated[id] > stamp {
		c.metrics.IncrementCounter(monitoring.MetricCacheStaleFills, map[string]string{"cache": CacheName})
		return false
	}
	c.set(id, owner, note)
	return true
}

func (c *Cache) set(id, owner string, note ClinicalNote) {
	entry := &cacheEntry{id: id, owner: owner, note: note.clone()}
	if el, ok := c.entries[id]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
	} else {
		c.entries[id] = c.order.PushFront(entry)
	}

	for c.capacity > 0 && c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).id)
		c.metrics.IncrementCounter(monitoring.MetricCacheEvicted, map[string]string{"cache": CacheName})
	}
	c.reportSize()
}

// Get returns a copy of the note cached for id if owner decrypted it.
func (c *Cache) Get(id, owner string) (ClinicalNote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok || el.Value.(*cacheEntry).owner != owner {
		c.metrics.IncrementCounter(monitoring.MetricCacheMisses, map[string]string{"cache": CacheName})
		return ClinicalNote{}, false
	}
	c.order.MoveToFront(el)
	c.metrics.IncrementCounter(monitoring.MetricCacheHits, map[string]string{"cache": CacheName})
	return el.Value.(*cacheEntry).note.clone(), true
}

func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Delete drops the entry for id and rejects fills stamped before the call.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.invalidated[id] = c.seq
	if len(c.invalidated) > maxInvalidations {
		c.floor = c.seq
		c.invalidated = make(map[string]uint64)
	}
	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
		c.reportSize()
	}
}

// Clear drops every decrypted note. Reads that started before the call
// cannot fill the cache again.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.floor = c.seq
	c.invalidated = make(map[string]uint64)
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.reportSize()
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) reportSize() {
	c.metrics.SetGauge(monitoring.MetricCacheEntries, float64(c.order.Len()), map[string]string{"cache": CacheName})
}
