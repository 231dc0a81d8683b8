// Package cache provides an LRU+TTL result cache for the routing/retrieval
// core, keyed by normalized query text.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

// DefaultMaxSize is the default number of cached queries.
const DefaultMaxSize = 1000

// DefaultTTL is the default entry lifetime.
const DefaultTTL = 5 * time.Minute

type entryRef struct {
	query   string
	results []*routing.RoutingSearchResult
	storedAt time.Time
}

// SearchCache is an LRU cache with per-entry TTL for search results.
// Recency is tracked via an intrusive doubly-linked list (container/list),
// mirroring the OrderedDict-based cache it is grounded on: Get moves the
// touched entry to the back (most-recently-used), Set evicts from the front
// when the cache is over capacity.
//
// Safe for concurrent use.
type SearchCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List               // back = most recently used
	index   map[string]*list.Element // query -> element holding *entryRef

	hits   uint64
	misses uint64
}

// New creates a cache with the given capacity and TTL. A non-positive
// maxSize or ttl falls back to the package defaults.
func New(maxSize int, ttl time.Duration) *SearchCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SearchCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Get returns cached results for query, or nil if missing or expired.
// A hit moves the entry to the most-recently-used position.
func (c *SearchCache) Get(query string) []*routing.RoutingSearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[query]
	if !ok {
		c.misses++
		return nil
	}
	ref := el.Value.(*entryRef)
	if time.Since(ref.storedAt) > c.ttl {
		c.removeElement(el)
		c.misses++
		slog.Debug("routing cache entry expired", "query", truncate(query, 50))
		return nil
	}

	c.order.MoveToBack(el)
	c.hits++
	return ref.results
}

// Set stores results for query, evicting the least-recently-used entry if
// the cache is now over capacity.
func (c *SearchCache) Set(query string, results []*routing.RoutingSearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[query]; ok {
		el.Value.(*entryRef).results = results
		el.Value.(*entryRef).storedAt = time.Now()
		c.order.MoveToBack(el)
		return
	}

	el := c.order.PushBack(&entryRef{query: query, results: results, storedAt: time.Now()})
	c.index[query] = el

	if c.order.Len() > c.maxSize {
		front := c.order.Front()
		evicted := front.Value.(*entryRef)
		c.removeElement(front)
		slog.Debug("routing cache evicted", "query", truncate(evicted.query, 50))
	}
}

// Clear empties the cache and returns the number of entries removed.
func (c *SearchCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.order.Len()
	c.order.Init()
	c.index = make(map[string]*list.Element)
	return n
}

// Stats reports current cache occupancy and bounds.
type Stats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
	Hits    uint64
	Misses  uint64
}

// Stats returns a snapshot of cache statistics.
func (c *SearchCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// RemoveExpired sweeps and removes all stale entries, returning the count
// removed. Safe to call periodically from a background ticker.
func (c *SearchCache) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		ref := el.Value.(*entryRef)
		if time.Since(ref.storedAt) > c.ttl {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of entries currently stored (expired or not).
func (c *SearchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *SearchCache) removeElement(el *list.Element) {
	ref := el.Value.(*entryRef)
	delete(c.index, ref.query)
	c.order.Remove(el)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
