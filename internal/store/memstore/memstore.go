// Package memstore is an in-process document store. Documents are kept as
// JSON so reads see the same value types as the persistent stores.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

type record struct {
	raw []byte
	seq int64
}

type watcher struct {
	q      store.Query
	fn     store.WatchFunc
	notify chan struct{}
}

// Store keeps every collection in memory and pushes a fresh snapshot to
// watchers on each change.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]record
	seq         int64
	watchers    map[*watcher]struct{}
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]record),
		watchers:    make(map[*watcher]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Add(ctx context.Context, collection string, data store.Document) (string, error) {
	raw, err := store.Encode(data, s.now())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]record)
		s.collections[collection] = coll
	}
	s.seq++
	coll[id] = record{raw: raw, seq: s.seq}
	s.mu.Unlock()

	s.broadcast(collection)
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Snapshot, error) {
	s.mu.RLock()
	rec, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	doc, err := store.Decode(rec.raw)
	if err != nil {
		return nil, err
	}
	return &store.Snapshot{ID: id, Data: doc}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, data store.Document) error {
	s.mu.Lock()
	rec, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	merged, err := store.Merge(rec.raw, data, s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.collections[collection][id] = record{raw: merged, seq: rec.seq}
	s.mu.Unlock()

	s.broadcast(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.broadcast(collection)
	return nil
}

// Query returns matching documents; without an explicit order they come in
// insertion order.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	s.mu.RLock()
	type entry struct {
		id  string
		rec record
	}
	entries := make([]entry, 0, len(s.collections[q.Collection]))
	for id, rec := range s.collections[q.Collection] {
		entries = append(entries, entry{id: id, rec: rec})
	}
	s.mu.RUnlock()

	// Insertion order first so ties in OrderBy stay stable.
	sort.Slice(entries, func(i, j int) bool { return entries[i].rec.seq < entries[j].rec.seq })
	docs := make([]store.Snapshot, len(entries))
	for i, e := range entries {
		doc, err := store.Decode(e.rec.raw)
		if err != nil {
			return nil, err
		}
		docs[i] = store.Snapshot{ID: e.id, Data: doc}
	}
	return store.Apply(q, docs), nil
}

// Watch delivers the current result right away and a new one after every
// change to the collection. Callbacks for one watcher never overlap.
func (s *Store) Watch(ctx context.Context, q store.Query, fn store.WatchFunc) (func(), error) {
	w := &watcher{q: q, fn: fn, notify: make(chan struct{}, 1)}
	w.notify <- struct{}{}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.notify:
			}
			docs, err := s.Query(ctx, q)
			if ctx.Err() != nil {
				return
			}
			fn(docs, err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			cancel()
			<-done
		})
	}, nil
}

func (s *Store) broadcast(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers {
		if w.q.Collection != collection {
			continue
		}
		// A pending notification already covers this change.
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}
