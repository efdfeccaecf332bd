// Package cmap implements the concurrent key/value store backing each cache
// shard: a generic hash map striped across independently locked buckets.
//
// The store promises per-key linearizable Set/SetIfAbsent/Remove plus an
// atomic read-and-mutate primitive (GetWith). GetWith holds only a stripe
// read lock, so any number of readers may run their callbacks on the same
// value concurrently — callers that mutate through the callback must do so
// with atomics and resolve races themselves. Writers on the same stripe are
// fully excluded while a callback runs.
package cmap

import (
	"sync"

	"github.com/IvanBrykalov/reapcache/internal/util"
)

// Map is a striped hash map. A Map handle is shared by reference; all users
// of the same *Map see the same data.
type Map[K comparable, V any] struct {
	stripes []stripe[K, V]
	mask    uint64
	hash    func(K) uint64
}

type stripe[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New builds a Map with at least `concurrency` stripes (rounded up to a
// power of two). The concurrency argument is a parallelism hint: one stripe
// per expected simultaneous writer is plenty.
//
// The hash function must be deterministic for the lifetime of the Map.
// Stripe selection remixes the hash through util.Mix64 because callers
// typically pick a cache shard from the low bits of the same hash first.
func New[K comparable, V any](concurrency int, hash func(K) uint64) *Map[K, V] {
	if concurrency < 1 {
		concurrency = 1
	}
	n := util.NextPow2(uint64(concurrency))
	m := &Map[K, V]{
		stripes: make([]stripe[K, V], n),
		mask:    n - 1,
		hash:    hash,
	}
	for i := range m.stripes {
		m.stripes[i].m = make(map[K]V)
	}
	return m
}

// GetWith applies fn to the value stored under k, or not at all on a miss.
// Reports whether the key was present. fn runs under the stripe read lock:
// keep it short and never call back into this Map from inside it.
func (m *Map[K, V]) GetWith(k K, fn func(V)) bool {
	s := m.stripeFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[k]
	if !ok {
		return false
	}
	fn(v)
	return true
}

// Get returns the value stored under k without running a callback.
func (m *Map[K, V]) Get(k K) (V, bool) {
	s := m.stripeFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[k]
	return v, ok
}

// Set stores v under k and returns the previous value, if any.
func (m *Map[K, V]) Set(k K, v V) (prev V, replaced bool) {
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, replaced = s.m[k]
	s.m[k] = v
	return prev, replaced
}

// SetIfAbsent stores v under k only when the key is not present.
// Returns false (and leaves the map untouched) when the key already exists.
func (m *Map[K, V]) SetIfAbsent(k K, v V) bool {
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.m[k]; exists {
		return false
	}
	s.m[k] = v
	return true
}

// Remove deletes k and returns the removed value, if any.
// Removing an absent key is a no-op, so concurrent removals of the same key
// are safe: exactly one caller observes the value.
func (m *Map[K, V]) Remove(k K) (V, bool) {
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return v, ok
}

// Len returns the number of stored entries. Stripes are counted one at a
// time, so the result is approximate while writers are active.
func (m *Map[K, V]) Len() int {
	total := 0
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

func (m *Map[K, V]) stripeFor(k K) *stripe[K, V] {
	h := util.Mix64(m.hash(k))
	return &m.stripes[h&m.mask]
}
