package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// A mixed workload of concurrent Set/Get/SetWithTTL/Add/Remove on random
// keys with real eviction churn underneath.
// Should pass under `-race` without detector reports.
func TestRace_Basic(t *testing.T) {
	c := New[string, []byte](Options[string, []byte]{
		MaxEntries: 256,
		Shards:     32,
		MaxSleep:   2 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Remove
					c.Remove(k)
				case 5, 6, 7, 8, 9: // ~5% — SetWithTTL
					c.SetWithTTL(k, []byte("x"), time.Duration(10+r.Intn(20))*time.Millisecond)
				case 10, 11, 12, 13, 14: // ~5% — Add
					c.Add(k, []byte("x"))
				case 15, 16, 17, 18, 19, 20, 21, 22, 23, 24: // ~10% — Set
					c.Set(k, []byte("x"))
				default: // ~75% — Get
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()

	if st := c.Stats(); st.Gets == 0 || st.Sets == 0 {
		t.Fatalf("workload left no trace in stats: %+v", st)
	}
}

// Ten goroutines call get on the same key 100 times each. The value stays
// intact, and every node the races left behind is eventually tombstoned and
// unlinked by the reaper.
func TestRace_SameKeyGets(t *testing.T) {
	c := New[string, int](Options[string, int]{
		MaxEntries: 128,
		Shards:     1,
		MaxSleep:   time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("A", 1)

	const goroutines, gets = 10, 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < gets; j++ {
				if v, ok := c.Get("A"); !ok || v != 1 {
					t.Errorf("Get(A): got %v ok=%v, want 1 true", v, ok)
					return
				}
			}
		}()
	}
	wg.Wait()

	if v, ok := c.Get("A"); !ok || v != 1 {
		t.Fatalf("final Get(A): got %v ok=%v, want 1 true", v, ok)
	}

	// The set and the 1000 gets created one node each; all but the current
	// access node must end up tombstoned and unlinked. Keep reading so
	// fresh nodes push stragglers past the head window.
	require.Eventually(t, func() bool {
		c.Get("A")
		return c.Stats().Deleted >= 999
	}, 10*time.Second, 2*time.Millisecond, "race leftovers must be reclaimed")
}

// One hundred goroutines call GetOrLoad on the same key concurrently.
// The Loader should run at most once (singleflight coalescing).
func TestRace_GetOrLoad(t *testing.T) {
	var calls atomic.Int64

	c := New[string, string](Options[string, string]{
		MaxEntries: 1024,
		Loader: func(_ context.Context, k string) (string, error) {
			calls.Add(1)
			time.Sleep(2 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const goroutines = 100
	key := "same-key"

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := c.GetOrLoad(context.Background(), key)
			if err != nil {
				t.Errorf("GetOrLoad error: %v", err)
				return
			}
			if v != "v:"+key {
				t.Errorf("unexpected value: %q", v)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := calls.Load(); got > 1 {
		t.Fatalf("loader should run at most once, got %d", got)
	}

	// Subsequent call should be a pure cache hit.
	if v, err := c.GetOrLoad(context.Background(), key); err != nil || v != "v:"+key {
		t.Fatalf("second GetOrLoad failed: v=%q err=%v", v, err)
	}
}
