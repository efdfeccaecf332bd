package cache

// Stats is a point-in-time aggregate of the per-shard counters.
// Counters are sampled one shard at a time without stopping writers, so a
// snapshot taken under load is internally consistent only per counter.
type Stats struct {
	// Gets counts Get calls, hits and misses alike.
	Gets uint64
	// Sets counts Set, SetWithTTL and successful Add calls.
	Sets uint64

	// Evicted counts entries the reaper expelled over the MaxEntries or
	// MaxMemory limit.
	Evicted uint64
	// Older counts access nodes the reaper retired for age: an expired
	// deadline or no get within MaxOld. A node whose entry was refreshed
	// or removed while the reaper acted on it is still counted, so Older
	// can exceed the number of entries actually aged out.
	Older uint64
	// Removed counts entries the reaper actually deleted from the store
	// for any reason. Unlike Older and Evicted it never double-counts.
	Removed uint64
	// Deleted counts tombstoned nodes unlinked from access lists. Every
	// get that refreshes an entry's recency produces one such node, so
	// under read traffic Deleted grows continuously. A stalling Deleted
	// under load means a reaper has stopped.
	Deleted uint64
}
