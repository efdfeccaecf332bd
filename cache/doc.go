// Package cache provides a fast, generic, sharded in-memory cache whose
// eviction runs entirely in the background: per-shard reaper goroutines
// prune a lock-free access list, so gets and sets never pay for eviction.
//
// Design
//
//   - Concurrency: the cache is split into shards (power of two, picked by
//     key hash). Each shard pairs a lock-striped key/value store with an
//     access list: a singly linked, newest-first chain under an atomic head
//     pointer. Writers only ever prepend (one CAS); a single reaper
//     goroutine per shard traverses and unlinks. Nothing else walks the
//     list, so no operation takes a list lock because there is none.
//
//   - Recency: every set and every hit prepends a fresh node. A hit then
//     tries once to swing the entry's access pointer from the node it saw
//     to the fresh one; the node that loses (the stale one on success, the
//     fresh one on a lost race) is tombstoned and the reaper unlinks it on
//     a later pass. Recency information therefore costs O(1) and no locks,
//     at the price of garbage nodes the reaper has to collect.
//
//   - Eviction: each reaper alternates sweeps and naps, napping less the
//     fuller its shard is (MaxSleep down to zero at the limit). A sweep
//     walks newest to oldest and unlinks tombstones, expels entries whose
//     TTL deadline passed or that went unread for MaxOld, and expels the
//     oldest entries beyond the newest MaxEntries while the shard holds
//     more than MaxEntries. A shard over MaxMemory additionally sheds its
//     oldest entries until the resident weight fits.
//
//   - TTL: entries carry absolute deadlines (DefaultTTL or SetWithTTL).
//     An expired entry answers as a miss immediately; the memory is
//     reclaimed by the reaper, not by the reader.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight. If Loader is nil, GetOrLoad returns ErrNoLoader.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Sweep/Size signals.
//     By default NoopMetrics is used; plug a Prometheus adapter to export
//     metrics. Stats() returns raw counters for tests and debugging.
//
//   - Callbacks: Options.OnEvict(k, v, reason) is called for every entry
//     the reaper expels (reason is one of EvictCapacity, EvictAge,
//     EvictTTL). Explicit Remove and Set replacement do not count.
//
//   - Failure mode: the reapers trust the clock. If a shard's reaper sees
//     time go backwards it stops, the shard keeps serving but stops
//     evicting, and Close reports ErrClockNotMonotonic for that shard.
//
// Basic usage
//
//	// Create a cache targeting 10k entries per shard.
//	c := cache.New[string, []byte](cache.Options[string, []byte]{MaxEntries: 10_000})
//	defer c.Close()
//	c.Set("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v // use value
//	}
//	c.Remove("a")
//
// With TTL
//
//	c := cache.New[string, string](cache.Options[string, string]{MaxEntries: 1024})
//	c.SetWithTTL("tmp", "v", 200*time.Millisecond)
//	time.Sleep(300 * time.Millisecond)
//	_, ok := c.Get("tmp") // ok == false (expired)
//
// With GetOrLoad (singleflight)
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    MaxEntries: 1024,
//	    Loader: func(ctx context.Context, k string) (string, error) {
//	        // e.g. fetch from DB
//	        return "v:" + k, nil
//	    },
//	})
//	v, err := c.GetOrLoad(context.Background(), "key")
//
// Bounding memory
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxEntries: 100_000,
//	    MaxMemory:  64 << 20, // 64 MiB per shard
//	    Size:       func(v []byte) int64 { return int64(len(v)) },
//	})
//
// Exporting metrics (example Prometheus adapter)
//
//	m := prom.New(nil, "reapcache", "demo", nil) // implements Metrics
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxEntries: 10_000,
//	    Metrics:    m,
//	})
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Typical operation cost
// is O(1): one striped map access plus one list prepend and one CAS, with
// no shared lock between a get and the eviction machinery. The reaper does
// O(list length) work per sweep, amortized across sweeps by the pacing.
package cache
