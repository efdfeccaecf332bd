package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/reapcache/internal/singleflight"
	"github.com/IvanBrykalov/reapcache/internal/util"
)

// cache is a sharded in-memory KV store with background eviction.
// All methods are safe for concurrent use by multiple goroutines.
type cache[K comparable, V any] struct {
	shards  []*shard[K, V]
	reapers []*reaper[K, V]
	hash    func(K) uint64
	mask    uint64

	opt Options[K, V]

	closed    atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
}

// New constructs a cache and starts one reaper goroutine per shard.
// MaxEntries is required; see Options for the defaults applied here.
// Call Close to stop the reapers when done.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.MaxEntries <= 0 {
		panic("cache: MaxEntries must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Hash == nil {
		opt.Hash = util.Fnv64a[K]
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MaxSleep <= 0 {
		opt.MaxSleep = 100 * time.Millisecond
	}
	if opt.StoreConcurrency <= 0 {
		opt.StoreConcurrency = 4
	}
	if opt.Size == nil {
		opt.MaxMemory = 0
	}

	// number of shards -> power of two
	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	c := &cache[K, V]{
		shards:  make([]*shard[K, V], sh),
		reapers: make([]*reaper[K, V], sh),
		hash:    opt.Hash,
		mask:    uint64(sh - 1),
		opt:     opt,
		stop:    make(chan struct{}),
	}
	for i := range c.shards {
		s := newShard(opt)
		r := &reaper[K, V]{s: s, idx: i}
		c.shards[i] = s
		c.reapers[i] = r
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			r.run(c.stop)
		}()
	}
	return c
}

// ---- Cache[K,V] implementation ----

// Get returns the value for k and refreshes its recency on a hit.
func (c *cache[K, V]) Get(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.shardFor(k).get(k)
}

// Set inserts or updates k→v, using DefaultTTL if set, and returns the
// replaced value, if any.
func (c *cache[K, V]) Set(k K, v V) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.shardFor(k).set(k, v, c.defaultDeadline())
}

// SetWithTTL inserts or updates k→v with a per-key TTL (relative duration).
// A non-positive ttl disables expiration for this entry.
func (c *cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.shardFor(k).set(k, v, c.deadline(ttl))
}

// Add inserts k→v only if absent, using DefaultTTL if set.
// Returns false if the key already exists (no update is performed).
func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	return c.shardFor(k).add(k, v, c.defaultDeadline())
}

// Remove deletes k if present and returns the removed value.
func (c *cache[K, V]) Remove(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.shardFor(k).remove(k)
}

// GetOrLoad returns the value for k; on miss it loads via Options.Loader,
// coalescing concurrent loads for the same key (singleflight).
// If no Loader is configured, returns ErrNoLoader.
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	// fast path
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	// singleflight: exactly one real load for the key
	return c.sf.Do(ctx, k, func() (V, error) {
		// double-check after flight join
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err == nil {
			c.Set(k, v)
		}
		return v, err
	})
}

// Len returns the total number of resident entries across all shards.
func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.len()
	}
	return total
}

// Stats returns a snapshot of the aggregated per-shard counters.
func (c *cache[K, V]) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		s.collect(&st)
	}
	return st
}

// Close stops every reaper, waits for them to exit, and reports how any of
// them died: the result joins one wrapped ErrClockNotMonotonic per reaper
// that hit a clock fault, or is nil for a clean shutdown. Further calls
// return the same result. Operations after Close are no-ops.
func (c *cache[K, V]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.wg.Wait()

		var errs []error
		for _, r := range c.reapers {
			if r.err != nil {
				errs = append(errs, r.err)
			}
		}
		c.closeErr = errors.Join(errs...)

		// Drop the chains so leftover nodes can be collected.
		for _, s := range c.shards {
			s.list.head.Store(nil)
		}

		st := c.Stats()
		c.opt.Logger.Debug("cache closed",
			"gets", st.Gets, "sets", st.Sets,
			"evicted", st.Evicted, "older", st.Older,
			"removed", st.Removed, "deleted", st.Deleted)
	})
	return c.closeErr
}

// ---- helpers ----

// shardFor picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *cache[K, V]) shardFor(k K) *shard[K, V] {
	return c.shards[c.hash(k)&c.mask]
}

// defaultDeadline returns an absolute deadline based on DefaultTTL.
func (c *cache[K, V]) defaultDeadline() int64 {
	if c.opt.DefaultTTL <= 0 {
		return 0
	}
	return c.deadline(c.opt.DefaultTTL)
}

// deadline converts a relative TTL into an absolute UnixNano deadline.
// A non-positive ttl returns 0 (no expiration).
func (c *cache[K, V]) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	now := time.Now().UnixNano()
	if c.opt.Clock != nil {
		now = c.opt.Clock.NowUnixNano()
	}
	return now + int64(ttl)
}
