package notes

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// Subscription is a live read of clinical notes. Every change in the store
// produces a new Batch on Updates. Only the latest undelivered batch is
// kept, so a slow reader skips intermediate states.
type Subscription struct {
	updates chan Batch
	done    chan struct{}

	mu      sync.Mutex
	loading bool
	err     error
	closed  bool

	cancel    func()
	closeOnce sync.Once
	doneOnce  sync.Once
}

// Updates delivers batches until the subscription is closed.
func (s *Subscription) Updates() <-chan Batch { return s.updates }

// Done is closed when the subscription ends, through Close or a store
// failure.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Loading is true until the first batch has been assembled.
func (s *Subscription) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the store failure that ended the subscription, if any.
// Records skipped for decryption never set it.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription. Results still being processed are
// discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.finish()
	})
}

func (s *Subscription) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Subscription) publish(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.loading = false
	// Replace a batch the reader has not taken yet.
	select {
	case <-s.updates:
	default:
	}
	s.updates <- b
}

// fail ends the subscription with err. It runs inside the store callback,
// where cancelling the watch would wait on itself, so the watch is
// released from another goroutine.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.loading = false
	s.mu.Unlock()
	s.finish()
	go s.Close()
}

// Watch subscribes to the notes selected by opts. The actor is resolved
// once, when the subscription starts.
func (r *Repository) Watch(ctx context.Context, opts ListOptions) (*Subscription, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		updates: make(chan Batch, 1),
		done:    make(chan struct{}),
		loading: true,
	}
	ctx, cancelCtx := context.WithCancel(ctx)

	// Callbacks never overlap and each result is read after the previous
	// callback returned, so a stamp taken at the end of one callback
	// precedes the read delivered to the next.
	stamp := r.cache.Stamp()
	cancelWatch, err := r.store.Watch(ctx, r.query(opts), func(docs []store.Snapshot, err error) {
		if err != nil {
			r.logger.Error("clinical note subscription failed", zap.Error(err))
			sub.fail(err)
			return
		}
		batch := r.process(ctx, owner, docs, stamp)
		stamp = r.cache.Stamp()
		sub.publish(batch)
	})
	if err != nil {
		cancelCtx()
		return nil, err
	}
	release := func() {
		cancelCtx()
		cancelWatch()
	}
	sub.mu.Lock()
	sub.cancel = release
	closed := sub.closed
	sub.mu.Unlock()
	// The first callback may already have failed and closed the
	// subscription before release was known.
	if closed {
		release()
	}
	return sub, nil
}
