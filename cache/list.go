package cache

import "sync/atomic"

// sweepSkip is the number of list positions next to the head that a sweep
// never unlinks. Writers publish nodes by swinging the head pointer, so the
// head region is the only place where they and the reaper meet; everything
// at least sweepSkip positions behind the sweep's starting head is reaper
// territory. Tombstoning and store removal are still allowed inside the
// window, only splicing is not.
const sweepSkip = 2

// node is one element of a shard's access list. Every set and every
// successful get prepends a fresh node, so list order is strictly
// newest-first and a node's position only ages.
//
// Ownership after publication: writers never touch a published node again
// except through the dead flag. The next field is written by the owning
// goroutine before the publishing CAS and afterwards only by the shard's
// reaper, which is the sole traverser. That keeps next a plain pointer.
type node[K comparable] struct {
	key K

	// born is the creation time in UnixNano. The list never reorders,
	// so born decreases monotonically along next links.
	born int64

	// expire is the absolute expiration deadline in UnixNano copied from
	// the entry at node creation. Zero means no deadline.
	expire int64

	// dead marks the node as garbage for the reaper. It flips false→true
	// exactly once and never back.
	dead atomic.Bool

	next *node[K]
}

// accessList is the recency chain of one shard: an atomic head pointer over
// singly linked nodes. Any number of goroutines may prepend; only the
// shard's reaper traverses and unlinks.
type accessList[K comparable] struct {
	head atomic.Pointer[node[K]]
}

// prepend publishes n at the head of the list. Lock-free: the CAS loop
// retries only when another writer got its node in first.
func (l *accessList[K]) prepend(n *node[K]) {
	for {
		old := l.head.Load()
		n.next = old
		if l.head.CompareAndSwap(old, n) {
			return
		}
	}
}
