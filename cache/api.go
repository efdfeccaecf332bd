package cache

import (
	"context"
	"time"
)

// Cache is a sharded, in-memory key/value cache interface.
// All methods are safe for concurrent use by multiple goroutines.
//
// Reads and writes are O(1) and never wait for eviction: capacity and age
// limits are enforced by per-shard background reapers, so limits are
// targets the cache converges to, not hard bounds at every instant.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a boolean flag indicating presence.
	// A hit refreshes the entry's recency; an entry past its TTL deadline
	// is reported as a miss.
	Get(k K) (V, bool)

	// Set inserts or updates k→v and returns the replaced value, if any.
	// It uses the cache's DefaultTTL (if set).
	Set(k K, v V) (V, bool)

	// SetWithTTL inserts or updates k→v with a per-key TTL (relative
	// duration) and returns the replaced value, if any.
	// A non-positive ttl disables expiration for this entry.
	SetWithTTL(k K, v V, ttl time.Duration) (V, bool)

	// Add inserts k→v only if k is not present.
	// It uses the cache's DefaultTTL (if set).
	// Returns false if the key already exists (no update is performed).
	Add(k K, v V) bool

	// Remove deletes k if present and returns the removed value.
	Remove(k K) (V, bool)

	// GetOrLoad returns the value for k, loading it via Options.Loader on
	// miss. Concurrent loads for the same key are coalesced (singleflight).
	// If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Len returns the total number of resident entries across all shards.
	Len() int

	// Stats returns a snapshot of the cache's operation counters.
	Stats() Stats

	// Close stops the reapers and marks the cache closed; subsequent
	// operations are no-ops. It returns the joined errors of reapers that
	// died early (see ErrClockNotMonotonic), or nil.
	Close() error
}
