package linkgraph

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Stats is the normalized backend statistics payload.
type Stats struct {
	TotalNotes    int
	Orphans       int
	LinksInGraph  int
	NodesInGraph  int
}

// StatsProvider is implemented by a backend that can report aggregate
// graph statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// StatsMeta describes how a StatsCache response was produced.
type StatsMeta struct {
	Source           string // "cache" | "probe" | "cache_stale" | "fallback"
	CacheHit         bool
	Fresh            bool
	AgeMS            int
	RefreshScheduled bool
}

type statsCacheEntry struct {
	stats     Stats
	expiresAt time.Time
	updatedAt time.Time
}

// StatsCache fronts a StatsProvider with a TTL cache, a fast probe timeout,
// and a background refresh that is deduplicated via singleflight so a
// cache-miss stampede results in at most one in-flight backend call.
type StatsCache struct {
	ttl            time.Duration
	probeTimeout   time.Duration
	refreshTimeout time.Duration

	group singleflight.Group

	mu              sync.Mutex
	entry           *statsCacheEntry
	hasData         bool
	refreshInFlight bool
}

// NewStatsCache creates a cache with the given TTL and timeouts.
func NewStatsCache(ttl, probeTimeout, refreshTimeout time.Duration) *StatsCache {
	return &StatsCache{ttl: ttl, probeTimeout: probeTimeout, refreshTimeout: refreshTimeout}
}

// Get returns cached stats if fresh, otherwise probes the backend with a
// short timeout, caching the result on success and falling back to stale
// cached data (refreshed in the background, deduplicated) or the provided
// fallback on failure.
func (c *StatsCache) Get(ctx context.Context, backend StatsProvider, fallback Stats) (Stats, StatsMeta) {
	now := time.Now()

	c.mu.Lock()
	if c.ttl > 0 && c.hasData && now.Before(c.entry.expiresAt) {
		stats, age := c.entry.stats, ageMS(c.entry.updatedAt, now)
		c.mu.Unlock()
		return stats, StatsMeta{Source: "cache", CacheHit: true, Fresh: true, AgeMS: age}
	}
	c.mu.Unlock()

	probeCtx := ctx
	var cancel context.CancelFunc
	if c.probeTimeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	stats, err := backend.Stats(probeCtx)
	if cancel != nil {
		cancel()
	}
	if err == nil {
		c.store(stats, time.Now())
		return stats, StatsMeta{Source: "probe", Fresh: true}
	}

	scheduled := c.scheduleRefresh(backend)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasData {
		return c.entry.stats, StatsMeta{
			Source: "cache_stale", CacheHit: true, Fresh: false,
			AgeMS: ageMS(c.entry.updatedAt, now), RefreshScheduled: scheduled,
		}
	}
	return fallback, StatsMeta{Source: "fallback", RefreshScheduled: scheduled}
}

func (c *StatsCache) store(stats Stats, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &statsCacheEntry{stats: stats, expiresAt: now.Add(c.ttl), updatedAt: now}
	c.hasData = true
}

// scheduleRefresh kicks off a background refresh without blocking the
// caller. golang.org/x/sync/singleflight.Group.DoChan dedups concurrent
// callers so a cache-miss stampede results in at most one in-flight
// backend call; it reports whether THIS call is the one that launched it.
func (c *StatsCache) scheduleRefresh(backend StatsProvider) bool {
	launchedNew := true
	c.group.DoChan("refresh", func() (interface{}, error) {
		ctx := context.Background()
		var cancel context.CancelFunc
		if c.refreshTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
			defer cancel()
		}
		stats, err := backend.Stats(ctx)
		if err != nil {
			return nil, err
		}
		c.store(stats, time.Now())
		return stats, nil
	})
	c.mu.Lock()
	if c.refreshInFlight {
		launchedNew = false
	} else {
		c.refreshInFlight = true
	}
	c.mu.Unlock()
	if launchedNew {
		go func() {
			<-c.group.DoChan("refresh", func() (interface{}, error) { return nil, nil })
			c.mu.Lock()
			c.refreshInFlight = false
			c.mu.Unlock()
		}()
	}
	return launchedNew
}

// Clear drops cached stats (for tests or a runtime reset).
func (c *StatsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
	c.hasData = false
}

func ageMS(updatedAt, now time.Time) int {
	ms := int(now.Sub(updatedAt) / time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}
