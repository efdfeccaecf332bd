// Package singleflight coalesces duplicate concurrent work by key: while a
// call for some key is in flight, further callers for that key wait for its
// shared result instead of starting their own.
package singleflight

import (
	"context"
	"sync"
)

// Group tracks in-flight calls by key. The zero value is ready to use.
//
// The first caller for a key becomes the leader and runs fn to completion;
// followers block on the shared result. A follower's ctx cancels only its
// own wait, never the leader's fn — thread ctx into fn if the work itself
// must be cancellable.
type Group[K comparable, V any] struct {
	mu      sync.Mutex
	flights map[K]*flight[V]
}

// flight is one in-progress call. val and err are published before done is
// closed, so any read after <-done observes the final values.
type flight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Do returns the result of fn for key, running fn at most once across all
// callers that overlap in time with the same key. Sequential calls run fn
// again: the Group deduplicates concurrency, it does not cache.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		return f.wait(ctx)
	}
	if g.flights == nil {
		g.flights = make(map[K]*flight[V])
	}
	f := &flight[V]{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	// Leader: run fn outside the lock, publish, wake followers.
	f.val, f.err = fn()
	close(f.done)

	g.mu.Lock()
	delete(g.flights, key)
	g.mu.Unlock()

	return f.val, f.err
}

func (f *flight[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
