package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClock is read concurrently by the reapers, hence the atomic.
type fakeClock struct{ t atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.t.Store(time.Now().UnixNano())
	return c
}

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// Basic Set/Get/Add/Remove semantics, including the previous-value returns.
func TestCache_BasicSetGetRemove(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxEntries: 8})
	t.Cleanup(func() { _ = c.Close() })

	if _, replaced := c.Set("a", 1); replaced {
		t.Fatal("first Set reported a previous value")
	}
	prev, replaced := c.Set("a", 11)
	if !replaced || prev != 1 {
		t.Fatalf("second Set: got prev=%d replaced=%v, want 1 true", prev, replaced)
	}
	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("Get a: got %v ok=%v, want 11 true", v, ok)
	}

	if !c.Add("b", 2) {
		t.Fatal("Add b must succeed")
	}
	if c.Add("b", 3) {
		t.Fatal("Add duplicate must fail")
	}
	if v, _ := c.Get("b"); v != 2 {
		t.Fatalf("value after duplicate Add: got %d, want 2", v)
	}

	v, ok := c.Remove("a")
	if !ok || v != 11 {
		t.Fatalf("Remove a: got %v ok=%v, want 11 true", v, ok)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be absent after Remove")
	}
	if _, ok := c.Remove("a"); ok {
		t.Fatal("Remove of absent key must report absent")
	}
	if c.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", c.Len())
	}
}

// Uses a fake clock to avoid timing flakiness.
// An entry past its deadline answers as a miss immediately, before any sweep.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string, string](Options[string, string]{MaxEntries: 4, Clock: clk})
	t.Cleanup(func() { _ = c.Close() })

	c.SetWithTTL("x", "v", 100*time.Millisecond)
	if _, ok := c.Get("x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("expired hit")
	}
}

// DefaultTTL applies to plain Set when no per-key TTL is given.
func TestCache_DefaultTTL(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string, int](Options[string, int]{
		MaxEntries: 4,
		DefaultTTL: 50 * time.Millisecond,
		Clock:      clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry outlived DefaultTTL")
	}
}

// Inserting one entry over MaxEntries makes the reaper expel the oldest:
// a single shard with room for two keeps the two newest inserts.
// Eviction is background work, so the assertion is a liveness one.
func TestCache_EvictsOldestOverCapacity(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		MaxEntries: 2,
		Shards:     1,
		MaxSleep:   2 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Poll Len, not Get: a Get would refresh the polled key's recency and
	// change which entry is oldest.
	require.Eventually(t, func() bool {
		return c.Len() == 2
	}, 5*time.Second, 2*time.Millisecond, "surplus entry must be evicted")

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry must be the evicted one")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("b must survive: got %v ok=%v", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("c must survive: got %v ok=%v", v, ok)
	}
	if st := c.Stats(); st.Evicted == 0 || st.Removed == 0 {
		t.Fatalf("eviction not reflected in stats: %+v", st)
	}
}

// Each shard reaps against its own MaxEntries, so the resident total
// converges to Shards*MaxEntries. A ceil-divided global target that does
// not divide evenly settles slightly above the requested total, never at
// it: waiting for Len() to reach the requested figure would wait forever.
func TestCache_LenConvergesToShardFloor(t *testing.T) {
	t.Parallel()

	const (
		capacity = 10 // requested total, not divisible by the shard count
		shards   = 4
	)
	perShard := (capacity + shards - 1) / shards
	floor := perShard * shards // 12

	c := New[string, int](Options[string, int]{
		MaxEntries: perShard,
		Shards:     shards,
		MaxSleep:   2 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 200; i++ {
		c.Set(fmt.Sprintf("k:%d", i), i)
	}

	require.Eventually(t, func() bool {
		return c.Len() <= floor
	}, 5*time.Second, 2*time.Millisecond, "surplus must drain to the shard floor")

	// Settle a few sweep cycles: no shard drops below its own cap, so the
	// total parks exactly at the floor, above the requested capacity.
	time.Sleep(50 * time.Millisecond)
	if got := c.Len(); got != floor {
		t.Fatalf("resident total: got %d, want %d", got, floor)
	}
}

// An entry that nobody reads for MaxOld is removed by the reaper, even when
// it is the only entry in the shard.
func TestCache_MaxOldRemovesIdleEntry(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		MaxEntries: 8,
		Shards:     1,
		MaxOld:     40 * time.Millisecond,
		MaxSleep:   5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, 5*time.Second, 5*time.Millisecond, "idle entry must age out")

	if _, ok := c.Get("a"); ok {
		t.Fatal("aged entry must be absent")
	}
	if st := c.Stats(); st.Older == 0 || st.Removed == 0 {
		t.Fatalf("aging not reflected in stats: %+v", st)
	}
}

// MaxMemory sheds the oldest entries until the resident weight fits.
func TestCache_MaxMemorySheds(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{
		MaxEntries: 64,
		MaxMemory:  8,
		Size:       func(v string) int64 { return int64(len(v)) },
		Shards:     1,
		MaxSleep:   2 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", "xxxx") // 4
	c.Set("b", "xxxx") // 4
	c.Set("c", "xxxx") // 4, total 12 > 8

	require.Eventually(t, func() bool {
		return c.Len() == 2
	}, 5*time.Second, 2*time.Millisecond, "oldest entry must be shed")

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry must be the shed one")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("newest entry must survive memory shedding")
	}
}

// OnEvict fires once per expelled entry with the right reason.
func TestCache_OnEvict(t *testing.T) {
	t.Parallel()

	type evicted struct {
		k      string
		v      int
		reason EvictReason
	}
	got := make(chan evicted, 16)

	c := New[string, int](Options[string, int]{
		MaxEntries: 2,
		Shards:     1,
		MaxSleep:   2 * time.Millisecond,
		OnEvict: func(k string, v int, reason EvictReason) {
			got <- evicted{k, v, reason}
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	select {
	case e := <-got:
		if e.k != "a" || e.v != 1 || e.reason != EvictCapacity {
			t.Fatalf("eviction callback: got %+v, want {a 1 capacity}", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no eviction callback")
	}
}

// Singleflight test: concurrent GetOrLoad calls for the same key
// should trigger the Loader at most once; subsequent calls are cache hits.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	var calls atomic.Int64

	c := New[string, string](Options[string, string]{
		MaxEntries: 64,
		Loader: func(_ context.Context, k string) (string, error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}

	if v, err := c.GetOrLoad(context.Background(), "k"); err != nil || v != "v:k" {
		t.Fatalf("second GetOrLoad failed: v=%q err=%v", v, err)
	}
}

func TestCache_GetOrLoad_NoLoader(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxEntries: 4})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.GetOrLoad(context.Background(), "k"); !errors.Is(err, ErrNoLoader) {
		t.Fatalf("error: got %v, want ErrNoLoader", err)
	}
}

// A loader error is returned to the caller and nothing is cached.
func TestCache_GetOrLoad_LoaderError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("backend down")
	c := New[string, int](Options[string, int]{
		MaxEntries: 4,
		Loader: func(context.Context, string) (int, error) {
			return 0, wantErr
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.GetOrLoad(context.Background(), "k"); !errors.Is(err, wantErr) {
		t.Fatalf("error: got %v, want %v", err, wantErr)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("failed load must not populate the cache")
	}
}

// Gets and sets are counted; snapshots aggregate across shards.
func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxEntries: 16, Shards: 4})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Add("c", 3)
	c.Get("a")
	c.Get("missing")

	st := c.Stats()
	if st.Sets != 3 {
		t.Fatalf("Sets: got %d, want 3", st.Sets)
	}
	if st.Gets != 2 {
		t.Fatalf("Gets: got %d, want 2", st.Gets)
	}
}

// Close stops the reapers; operations afterwards are no-ops and a second
// Close returns the same result.
func TestCache_Close(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxEntries: 4})
	c.Set("a", 1)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := c.Get("a"); ok {
		t.Fatal("Get after Close must miss")
	}
	if _, replaced := c.Set("a", 2); replaced {
		t.Fatal("Set after Close must be a no-op")
	}
	if c.Add("b", 1) {
		t.Fatal("Add after Close must fail")
	}
	if _, ok := c.Remove("a"); ok {
		t.Fatal("Remove after Close must be a no-op")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// Works with non-string keys through the default hasher.
func TestCache_IntKeys(t *testing.T) {
	t.Parallel()

	c := New[int, string](Options[int, string]{MaxEntries: 32})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 20; i++ {
		c.Set(i, fmt.Sprintf("v%d", i))
	}
	for i := 0; i < 20; i++ {
		if v, ok := c.Get(i); !ok || v != fmt.Sprintf("v%d", i) {
			t.Fatalf("Get(%d): got %q ok=%v", i, v, ok)
		}
	}
}
