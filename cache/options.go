package cache

import (
	"context"
	"log/slog"
	"time"
)

// EvictReason explains why the reaper removed an entry.
type EvictReason int

const (
	// EvictCapacity — removed because the shard exceeded MaxEntries or MaxMemory.
	EvictCapacity EvictReason = iota
	// EvictAge — the entry's access node outlived MaxOld without a get.
	EvictAge
	// EvictTTL — the entry's expiration deadline passed.
	EvictTTL
)

// String returns a stable lowercase name, suitable as a metric label.
func (r EvictReason) String() string {
	switch r {
	case EvictAge:
		return "age"
	case EvictTTL:
		return "ttl"
	default:
		return "capacity"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
//
// Hit/Miss/Evict fire on the hot path and Evict may fire from the reaper;
// implementations must be safe for concurrent use and cheap.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	// Sweep reports one finished reaper pass over a shard's access list:
	// how many nodes were unlinked from the list and how many entries were
	// removed from the store.
	Sweep(shard, unlinked, removed int)
	// Size reports per-shard occupancy after a sweep. memory is the summed
	// Size() of resident values, or 0 when memory accounting is off.
	Size(shard int, entries int, memory int64)
}

// Clock provides time in UnixNano; useful for deterministic tests.
// Readings must never decrease: the reaper treats a backwards step as a
// fatal fault and stops evicting for that shard (see ErrClockNotMonotonic).
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. Zero values are safe except for
// MaxEntries, which is required; defaults are applied in New():
//   - Shards <= 0   => auto (≈ 2*GOMAXPROCS, power of two, at most 256)
//   - MaxSleep <= 0 => 100ms
//   - nil Metrics   => NoopMetrics
//   - nil Hash      => FNV-1a over the key's memory representation
//   - nil Logger    => slog.Default()
type Options[K comparable, V any] struct {
	// MaxEntries is the per-shard entry target. Each shard's reaper starts
	// evicting the oldest entries once the shard holds more than this many.
	// It is a target, not a hard cap: writers never block on it, so a shard
	// may overshoot between sweeps. Required (> 0).
	MaxEntries int

	// MaxMemory is the per-shard limit on the summed Size of resident
	// values. 0 disables memory-based eviction. Requires a Size function;
	// MaxMemory without Size is ignored.
	MaxMemory int64

	// Size reports the logical weight of a value (e.g. bytes). It is called
	// once per Set and must be pure. nil disables memory accounting.
	Size func(v V) int64

	// Shards defines the number of shards. If 0, an automatic value is
	// chosen (≈ 2*GOMAXPROCS, at most 256) and rounded to the next power
	// of two. Every shard runs its own reaper goroutine.
	Shards int

	// MaxOld evicts entries that have not been read for this long.
	// Recency is tracked per access node, so any get resets the clock.
	// 0 disables idle eviction.
	MaxOld time.Duration

	// MaxSleep caps the reaper's pause between sweeps. The actual pause
	// shrinks linearly as the shard fills and reaches zero at the
	// MaxEntries/MaxMemory limit. Defaults to 100ms.
	MaxSleep time.Duration

	// StoreConcurrency is the number of lock stripes in each shard's
	// key/value store, rounded up to a power of two. 0 picks a small
	// default; shards already spread load, so a handful is plenty.
	StoreConcurrency int

	// Hash maps a key to 64 bits for shard selection. nil uses the built-in
	// FNV-1a, which covers the common key types; supply your own for
	// struct keys or when you already have a precomputed hash.
	Hash func(k K) uint64

	// DefaultTTL applies to Add/Set when a per-key TTL is not provided
	// (0 = no TTL). TTLs are absolute: a get does not extend the deadline.
	DefaultTTL time.Duration

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// OnEvict is called by the reaper once per evicted entry, outside of
	// any store lock but from the reaper goroutine; keep it lightweight or
	// hand off. Not called for explicit Remove or Set replacement.
	OnEvict func(k K, v V, reason EvictReason)

	// Metrics receives observability callbacks. Nil => NoopMetrics.
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock

	// Logger receives reaper lifecycle events at Debug and clock faults at
	// Error. Nil => slog.Default().
	Logger *slog.Logger
}
