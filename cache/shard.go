package cache

import (
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/reapcache/internal/cmap"
	"github.com/IvanBrykalov/reapcache/internal/util"
)

// value is the store-side record of one entry. The record itself is
// immutable after publication except for access, which successful gets
// swing to ever fresher nodes.
type value[K comparable, V any] struct {
	v    V
	size int64

	// deadline is the absolute expiration time in UnixNano (0 = none).
	deadline int64

	// access points to the entry's newest list node. Gets race each other
	// for it with a single CAS attempt; whoever loses tombstones its own
	// node. Always non-nil once the record is in the store.
	access atomic.Pointer[node[K]]
}

// shard is an independent partition of the cache: a striped key/value store,
// an access list shared lock-free between writers, and one reaper goroutine
// that prunes the list and enforces the limits. Writers never block on
// eviction; the shard may overshoot its targets between sweeps.
type shard[K comparable, V any] struct {
	store *cmap.Map[K, *value[K, V]]
	list  accessList[K]

	maxEntries int
	maxMemory  int64

	opt Options[K, V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_       util.CacheLinePad
	mem     util.PaddedAtomicInt64
	gets    util.PaddedAtomicUint64
	sets    util.PaddedAtomicUint64
	evicted util.PaddedAtomicUint64
	older   util.PaddedAtomicUint64
	removed util.PaddedAtomicUint64
	deleted util.PaddedAtomicUint64
}

// newShard initializes a shard from normalized Options (defaults applied,
// MaxMemory already zeroed when no Size function is set).
func newShard[K comparable, V any](opt Options[K, V]) *shard[K, V] {
	s := &shard[K, V]{
		maxEntries: opt.MaxEntries,
		maxMemory:  opt.MaxMemory,
		opt:        opt,
	}
	s.store = cmap.New[K, *value[K, V]](opt.StoreConcurrency, opt.Hash)
	return s
}

// get returns the value for k and refreshes its recency on a hit.
// An entry past its deadline is reported as a miss and left for the reaper.
func (s *shard[K, V]) get(k K) (V, bool) {
	s.gets.Add(1)

	var (
		v  V
		ok bool
	)
	now := s.now()
	s.store.GetWith(k, func(val *value[K, V]) {
		if val.deadline > 0 && now > val.deadline {
			return
		}
		v, ok = val.v, true
		s.touch(val, now)
	})

	if !ok {
		s.opt.Metrics.Miss()
		return v, false
	}
	s.opt.Metrics.Hit()
	return v, true
}

// touch refreshes the entry's recency: publish a fresh node at the list
// head, then try once to swing the access pointer over. Exactly one of the
// two nodes involved stays live; the loser is tombstoned for the reaper.
// Concurrent gets of the same entry may both publish nodes, and that is
// fine: the CAS arbitrates, no retry needed.
func (s *shard[K, V]) touch(val *value[K, V], now int64) {
	old := val.access.Load()
	fresh := &node[K]{key: old.key, born: now, expire: val.deadline}
	s.list.prepend(fresh)
	if val.access.CompareAndSwap(old, fresh) {
		old.dead.Store(true)
	} else {
		fresh.dead.Store(true)
	}
}

// set inserts or replaces the entry for k and returns the previous value,
// if any. The fresh node is published to the list before the record becomes
// visible in the store, so the reaper can always reach what gets can reach.
func (s *shard[K, V]) set(k K, v V, deadline int64) (V, bool) {
	s.sets.Add(1)

	size := s.sizeOf(v)
	fresh := &node[K]{key: k, born: s.now(), expire: deadline}
	val := &value[K, V]{v: v, size: size, deadline: deadline}
	val.access.Store(fresh)
	s.list.prepend(fresh)

	prev, replaced := s.store.Set(k, val)
	if !replaced {
		s.mem.Add(size)
		var zero V
		return zero, false
	}
	s.mem.Add(size - prev.size)
	// The replaced record is unreachable for gets once Set returns, so its
	// access pointer is stable now.
	prev.access.Load().dead.Store(true)
	return prev.v, true
}

// add inserts the entry for k only when absent. On a lost race the
// speculatively published node is tombstoned and the store is untouched.
func (s *shard[K, V]) add(k K, v V, deadline int64) bool {
	size := s.sizeOf(v)
	fresh := &node[K]{key: k, born: s.now(), expire: deadline}
	val := &value[K, V]{v: v, size: size, deadline: deadline}
	val.access.Store(fresh)
	s.list.prepend(fresh)

	if !s.store.SetIfAbsent(k, val) {
		fresh.dead.Store(true)
		return false
	}
	s.sets.Add(1)
	s.mem.Add(size)
	return true
}

// remove deletes the entry for k and returns the removed value, if any.
// The list node is only tombstoned; the reaper unlinks it later.
func (s *shard[K, V]) remove(k K) (V, bool) {
	val, ok := s.store.Remove(k)
	if !ok {
		var zero V
		return zero, false
	}
	s.mem.Add(-val.size)
	val.access.Load().dead.Store(true)
	return val.v, true
}

// expel is the reaper-side removal of the entry behind list node n.
// The examined node is tombstoned first; if the store still holds the
// entry, it is deleted and the entry's current access node (which a
// concurrent get may have moved past n) is tombstoned as well.
// Reports whether the store held the entry.
func (s *shard[K, V]) expel(n *node[K], reason EvictReason) bool {
	n.dead.Store(true)
	val, ok := s.store.Remove(n.key)
	if !ok {
		return false
	}
	s.mem.Add(-val.size)
	if a := val.access.Load(); a != n {
		a.dead.Store(true)
	}
	s.opt.Metrics.Evict(reason)
	if cb := s.opt.OnEvict; cb != nil {
		cb(n.key, val.v, reason)
	}
	return true
}

// len returns the number of entries resident in the store.
func (s *shard[K, V]) len() int {
	return s.store.Len()
}

// overMemory reports whether the resident value weight exceeds MaxMemory.
func (s *shard[K, V]) overMemory() bool {
	return s.maxMemory > 0 && s.mem.Load() > s.maxMemory
}

// collect folds this shard's counters into st.
func (s *shard[K, V]) collect(st *Stats) {
	st.Gets += s.gets.Load()
	st.Sets += s.sets.Load()
	st.Evicted += s.evicted.Load()
	st.Older += s.older.Load()
	st.Removed += s.removed.Load()
	st.Deleted += s.deleted.Load()
}

func (s *shard[K, V]) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// sizeOf computes the value weight; negative sizes are treated as zero.
func (s *shard[K, V]) sizeOf(v V) int64 {
	if s.opt.Size == nil {
		return 0
	}
	if sz := s.opt.Size(v); sz > 0 {
		return sz
	}
	return 0
}
