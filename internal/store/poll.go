package store

import (
	"context"
	"sync"
	"time"
)

// QueryFunc runs a query once.
type QueryFunc func(ctx context.Context) ([]Snapshot, error)

// Poll implements Watch for stores without change notifications. It runs
// query right away and then every interval, and calls fn when the result
// differs from the previous one. A query error is delivered to fn and ends
// the watch. The returned function stops polling and waits for any
// in-flight callback, so it must not be called from fn.
func Poll(ctx context.Context, interval time.Duration, query QueryFunc, fn WatchFunc) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := ""
		first := true
		for {
			docs, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				fn(nil, err)
				return
			}
			if fp := Fingerprint(docs); first || fp != last {
				first = false
				last = fp
				fn(docs, nil)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
