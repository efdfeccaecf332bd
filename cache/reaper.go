package cache

import (
	"fmt"
	"time"
)

// reaper owns background eviction for one shard. It is the only goroutine
// that ever traverses or splices the shard's access list, which is what
// keeps the list's next pointers plain. A reaper sweeps, naps in proportion
// to how empty the shard is, and repeats until stopped.
type reaper[K comparable, V any] struct {
	s   *shard[K, V]
	idx int

	// lastNow is the clock reading of the previous sweep. A reading below
	// it is a fault: node ages would go negative and eviction decisions
	// would be garbage, so the reaper refuses to continue.
	lastNow int64

	// err is set at most once, right before the goroutine exits.
	// Close reads it after waiting the goroutine out.
	err error
}

func (r *reaper[K, V]) run(stop <-chan struct{}) {
	log := r.s.opt.Logger
	log.Debug("reaper started", "shard", r.idx)

	timer := time.NewTimer(r.pause())
	defer timer.Stop()
	for {
		select {
		case <-stop:
			log.Debug("reaper stopped", "shard", r.idx)
			return
		case <-timer.C:
		}
		if err := r.sweep(); err != nil {
			r.err = err
			log.Error("reaper died, shard no longer evicts", "shard", r.idx, "err", err)
			return
		}
		timer.Reset(r.pause())
	}
}

// pause is the nap before the next sweep: MaxSleep scaled by how far the
// shard is from its limits, zero once an entry or memory limit is reached.
func (r *reaper[K, V]) pause() time.Duration {
	s := r.s
	ratio := float64(s.len()) / float64(s.maxEntries)
	if s.maxMemory > 0 {
		if mr := float64(s.mem.Load()) / float64(s.maxMemory); mr > ratio {
			ratio = mr
		}
	}
	if ratio >= 1 {
		return 0
	}
	return time.Duration((1 - ratio) * float64(s.opt.MaxSleep))
}

// shedBatch bounds how many entries one sweep expels for memory overage.
// Memory shedding goes oldest first, which a newest-first walk only learns
// at the end, so the sweep remembers the last shedBatch kept nodes and
// works back from there. Anything still over the limit waits for the next
// sweep, which the pacing schedules immediately while a limit is exceeded.
const shedBatch = 64

// sweep walks the access list once, newest to oldest, and prunes it.
// Per node, in order: tombstoned nodes are unlinked; overdue nodes (expired
// deadline or idle past MaxOld) have their entry expelled from the store;
// live nodes beyond the first maxEntries kept ones are expelled while the
// surplus budget lasts. The budget is fixed at sweep start so one pass
// removes exactly the entry surplus, oldest first, and never touches the
// newest maxEntries. If the shard is still over MaxMemory after the walk,
// the oldest kept entries are expelled until the weight fits.
//
// Nodes inside the head window (idx < sweepSkip) are never unlinked, only
// tombstoned; the next pass picks them up once fresh inserts have pushed
// them deeper. Memory shedding does not unlink at all for the same reason:
// the walk is already past those nodes, so they are tombstoned in place.
func (r *reaper[K, V]) sweep() error {
	s := r.s
	now := s.now()
	if now < r.lastNow {
		return fmt.Errorf("shard %d: clock stepped back %v: %w",
			r.idx, time.Duration(r.lastNow-now), ErrClockNotMonotonic)
	}
	r.lastNow = now

	maxOld := int64(s.opt.MaxOld)
	budget := s.len() - s.maxEntries
	if budget < 0 {
		budget = 0
	}

	var unlinked, removed, deleted, older, evicted int

	// Ring of the last kept live nodes, i.e. the oldest survivors.
	var (
		tail [shedBatch]*node[K]
		tw   int
		tn   int
	)

	var prev *node[K]
	cur := s.list.head.Load()
	keptLive := 0
	for idx := 0; cur != nil; idx++ {
		next := cur.next
		unlink := false

		if cur.dead.Load() {
			if idx >= sweepSkip {
				unlink = true
				deleted++
			}
		} else if reason, overdue := agedBy(cur, now, maxOld); overdue {
			if s.expel(cur, reason) {
				removed++
			}
			older++
			unlink = idx >= sweepSkip
		} else if keptLive >= s.maxEntries && budget > 0 {
			if s.expel(cur, EvictCapacity) {
				removed++
			}
			evicted++
			budget--
			unlink = idx >= sweepSkip
		} else {
			keptLive++
			if s.maxMemory > 0 {
				tail[tw] = cur
				tw = (tw + 1) % shedBatch
				if tn < shedBatch {
					tn++
				}
			}
		}

		if unlink {
			prev.next = next
			cur.next = nil
			unlinked++
		} else {
			prev = cur
		}
		cur = next
	}

	// Most recently ringed = oldest visited; walk the ring backwards.
	for i := 1; i <= tn && s.overMemory(); i++ {
		n := tail[(tw-i+shedBatch)%shedBatch]
		if s.expel(n, EvictCapacity) {
			removed++
		}
		evicted++
	}

	s.deleted.Add(uint64(deleted))
	s.older.Add(uint64(older))
	s.evicted.Add(uint64(evicted))
	s.removed.Add(uint64(removed))
	s.opt.Metrics.Sweep(r.idx, unlinked, removed)
	s.opt.Metrics.Size(r.idx, s.len(), s.mem.Load())
	return nil
}

// agedBy classifies a live node as overdue. An expired entry deadline wins
// over idle age when both apply.
func agedBy[K comparable](n *node[K], now, maxOld int64) (EvictReason, bool) {
	if n.expire > 0 && now > n.expire {
		return EvictTTL, true
	}
	if maxOld > 0 && now-n.born > maxOld {
		return EvictAge, true
	}
	return EvictAge, false
}
