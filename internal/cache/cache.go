// Package cache implements a generic read-through cache with
// stale-while-revalidate semantics: readers past the freshness window
// get the previous value immediately while a single background refresh
// updates the entry for future callers.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	freshHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revalidating_cache_fresh_hits_total",
		Help: "Lookups served within the freshness window.",
	})
	staleHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revalidating_cache_stale_hits_total",
		Help: "Lookups served from the stale window.",
	})
	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revalidating_cache_misses_total",
		Help: "Lookups that required a synchronous upstream fetch.",
	})
	refreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revalidating_cache_refresh_failures_total",
		Help: "Background refreshes that failed and left the old entry in place.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revalidating_cache_refresh_queue_depth",
		Help: "Refresh tasks waiting for the background worker.",
	})
)

// FetchFunc loads the value for a key from upstream.
type FetchFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value    V
	cachedAt time.Time
}

type refreshTask[V any] struct {
	key   string
	fetch FetchFunc[V]
}

// Options tune the refresh worker. Zero values get defaults.
type Options struct {
	// QueueSize bounds the refresh queue; a full queue drops the refresh
	// attempt (the next stale reader re-enqueues it). Default 64.
	QueueSize int
	// RefreshTimeout bounds one background fetch. Default 5s.
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// Cache is safe for concurrent use. One worker goroutine consumes the
// refresh queue; the in-flight key set gives single-flight behavior
// regardless of how many readers hit the stale window at once.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]entry[V]
	inflight map[string]struct{}

	queue          chan refreshTask[V]
	quit           chan struct{}
	done           sync.WaitGroup
	refreshTimeout time.Duration
	log            *slog.Logger

	now func() time.Time // swapped in tests
}

func New[V any](opts Options) *Cache[V] {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Cache[V]{
		entries:        make(map[string]entry[V]),
		inflight:       make(map[string]struct{}),
		queue:          make(chan refreshTask[V], opts.QueueSize),
		quit:           make(chan struct{}),
		refreshTimeout: opts.RefreshTimeout,
		log:            opts.Logger,
		now:            time.Now,
	}
	c.done.Add(1)
	go c.worker()
	return c
}

// GetOrRefresh returns the cached value for key and whether it is stale.
//
//   - age < refreshAfter: cached value, not stale, no work triggered.
//   - refreshAfter <= age < ttl: cached value, stale, and exactly one
//     background refresh is in flight for the key.
//   - no entry or age >= ttl: fetch synchronously under the caller's
//     context and cache the result.
func (c *Cache[V]) GetOrRefresh(ctx context.Context, key string, fetch FetchFunc[V], ttl, refreshAfter time.Duration) (V, bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		age := c.now().Sub(e.cachedAt)
		if age < refreshAfter {
			c.mu.Unlock()
			freshHits.Inc()
			return e.value, false, nil
		}
		if age < ttl {
			c.enqueueRefreshLocked(key, fetch)
			c.mu.Unlock()
			staleHits.Inc()
			return e.value, true, nil
		}
	}
	c.mu.Unlock()

	misses.Inc()
	value, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.store(key, value)
	return value, false, nil
}

// enqueueRefreshLocked enqueues at most one refresh per key. Queue
// semantics alone would allow duplicates for a hot key, so the in-flight
// set is tracked explicitly. Caller holds c.mu.
func (c *Cache[V]) enqueueRefreshLocked(key string, fetch FetchFunc[V]) {
	if _, busy := c.inflight[key]; busy {
		return
	}
	c.inflight[key] = struct{}{}
	select {
	case c.queue <- refreshTask[V]{key: key, fetch: fetch}:
		queueDepth.Set(float64(len(c.queue)))
	default:
		// Backpressure: drop the attempt; the entry stays stale and the
		// next reader re-enqueues.
		delete(c.inflight, key)
		c.log.Warn("cache refresh queue full, dropping refresh", "key", key)
	}
}

func (c *Cache[V]) worker() {
	defer c.done.Done()
	for {
		select {
		case <-c.quit:
			return
		case task := <-c.queue:
			queueDepth.Set(float64(len(c.queue)))
			c.refresh(task)
		}
	}
}

// refresh runs one background fetch. Failure never evicts: readers keep
// the old, possibly stale value.
func (c *Cache[V]) refresh(task refreshTask[V]) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	value, err := task.fetch(ctx)
	cancel()

	c.mu.Lock()
	delete(c.inflight, task.key)
	if err == nil {
		c.entries[task.key] = entry[V]{value: value, cachedAt: c.now()}
	}
	c.mu.Unlock()

	if err != nil {
		refreshFailures.Inc()
		c.log.Error("background cache refresh failed", "key", task.key, "error", err)
	}
}

func (c *Cache[V]) store(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, cachedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops a key so the next lookup fetches synchronously.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Close stops the refresh worker. Pending refreshes are discarded;
// in-flight state is irrelevant once the worker is gone.
func (c *Cache[V]) Close() {
	close(c.quit)
	c.done.Wait()
}
