package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests move a cache entry through the fresh, stale, and
// expired windows without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock) *Cache[string] {
	t.Helper()
	c := New[string](Options{QueueSize: 8})
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c
}

const (
	ttl          = 900 * time.Second
	refreshAfter = 300 * time.Second
)

func countingFetch(value string, calls *atomic.Int64) FetchFunc[string] {
	return func(_ context.Context) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestMissFetchesSynchronously(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	var calls atomic.Int64

	v, stale, err := c.GetOrRefresh(context.Background(), "unknown-key", countingFetch("v1", &calls), ttl, refreshAfter)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if v != "v1" || stale {
		t.Errorf("got (%q, stale=%v), want (v1, fresh)", v, stale)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls: got %d, want exactly 1", calls.Load())
	}
}

func TestFreshHitTriggersNoWork(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	var calls atomic.Int64
	fetch := countingFetch("v1", &calls)
	ctx := context.Background()

	if _, _, err := c.GetOrRefresh(ctx, "k", fetch, ttl, refreshAfter); err != nil {
		t.Fatal(err)
	}
	clock.Advance(refreshAfter - time.Second)

	v, stale, err := c.GetOrRefresh(ctx, "k", fetch, ttl, refreshAfter)
	if err != nil {
		t.Fatal(err)
	}
	if v != "v1" || stale {
		t.Errorf("got (%q, stale=%v), want fresh v1", v, stale)
	}
	if calls.Load() != 1 {
		t.Errorf("fresh hit must not fetch: calls=%d", calls.Load())
	}
}

func TestStaleHitServesOldValueAndRefreshes(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	ctx := context.Background()
	var calls atomic.Int64

	if _, _, err := c.GetOrRefresh(ctx, "k", countingFetch("v1", &calls), ttl, refreshAfter); err != nil {
		t.Fatal(err)
	}
	clock.Advance(refreshAfter + time.Second)

	v, stale, err := c.GetOrRefresh(ctx, "k", countingFetch("v2", &calls), ttl, refreshAfter)
	if err != nil {
		t.Fatal(err)
	}
	if v != "v1" || !stale {
		t.Errorf("stale window must serve the cached value: got (%q, stale=%v)", v, stale)
	}

	// The background worker picks it up and future readers see v2 fresh.
	waitFor(t, func() bool {
		v, stale, err := c.GetOrRefresh(ctx, "k", countingFetch("v3", &calls), ttl, refreshAfter)
		return err == nil && v == "v2" && !stale
	})
}

func TestSingleFlight(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	ctx := context.Background()
	var calls atomic.Int64

	if _, _, err := c.GetOrRefresh(ctx, "k", countingFetch("v1", &calls), ttl, refreshAfter); err != nil {
		t.Fatal(err)
	}
	calls.Store(0)
	clock.Advance(refreshAfter + time.Second)

	gate := make(chan struct{})
	slowFetch := func(_ context.Context) (string, error) {
		calls.Add(1)
		<-gate
		return "v2", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, stale, err := c.GetOrRefresh(ctx, "k", slowFetch, ttl, refreshAfter)
			if err != nil {
				t.Errorf("GetOrRefresh: %v", err)
				return
			}
			if v != "v1" || !stale {
				t.Errorf("concurrent stale reader got (%q, stale=%v), want (v1, true)", v, stale)
			}
		}()
	}
	wg.Wait()
	close(gate)

	waitFor(t, func() bool {
		v, _, err := c.GetOrRefresh(ctx, "k", slowFetch, ttl, refreshAfter)
		return err == nil && v == "v2"
	})
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch invocations during stale window: got %d, want at most 1", got)
	}
}

func TestRefreshFailureKeepsStaleEntry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	ctx := context.Background()
	var calls atomic.Int64

	if _, _, err := c.GetOrRefresh(ctx, "k", countingFetch("v1", &calls), ttl, refreshAfter); err != nil {
		t.Fatal(err)
	}
	clock.Advance(refreshAfter + time.Second)

	var failed atomic.Bool
	failingFetch := func(_ context.Context) (string, error) {
		failed.Store(true)
		return "", errors.New("upstream 500")
	}
	if _, stale, err := c.GetOrRefresh(ctx, "k", failingFetch, ttl, refreshAfter); err != nil || !stale {
		t.Fatalf("stale read: stale=%v err=%v", stale, err)
	}

	waitFor(t, failed.Load)
	// The old value is still served; failure never evicts.
	waitFor(t, func() bool {
		c.mu.Lock()
		_, busy := c.inflight["k"]
		c.mu.Unlock()
		return !busy
	})
	v, stale, err := c.GetOrRefresh(ctx, "k", failingFetch, ttl, refreshAfter)
	if err != nil || v != "v1" || !stale {
		t.Errorf("after failed refresh: got (%q, stale=%v, err=%v), want (v1, true, nil)", v, stale, err)
	}
}

func TestExpiredEntryFetchesSynchronously(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	ctx := context.Background()
	var calls atomic.Int64

	if _, _, err := c.GetOrRefresh(ctx, "k", countingFetch("v1", &calls), ttl, refreshAfter); err != nil {
		t.Fatal(err)
	}
	clock.Advance(ttl + time.Second)

	v, stale, err := c.GetOrRefresh(ctx, "k", countingFetch("v2", &calls), ttl, refreshAfter)
	if err != nil {
		t.Fatal(err)
	}
	if v != "v2" || stale {
		t.Errorf("expired entry must refetch: got (%q, stale=%v)", v, stale)
	}
	if calls.Load() != 2 {
		t.Errorf("fetch calls: got %d, want 2", calls.Load())
	}
}

func TestSynchronousFetchErrorSurfacesAsMiss(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	_, _, err := c.GetOrRefresh(context.Background(), "k", func(_ context.Context) (string, error) {
		return "", errors.New("timeout")
	}, ttl, refreshAfter)
	if err == nil {
		t.Fatal("expected the synchronous fetch error to surface")
	}
}

func TestCloseStopsWorker(t *testing.T) {
	c := New[string](Options{QueueSize: 2})
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
