package cache

import (
	"testing"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults(ids ...string) []*routing.RoutingSearchResult {
	out := make([]*routing.RoutingSearchResult, len(ids))
	for i, id := range ids {
		out[i] = &routing.RoutingSearchResult{ID: id, Score: 1.0}
	}
	return out
}

func TestSearchCache_GetMiss(t *testing.T) {
	c := New(10, time.Minute)
	assert.Nil(t, c.Get("nope"))
}

func TestSearchCache_SetGet(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("git status", sampleResults("git.status"))

	got := c.Get("git status")
	require.Len(t, got, 1)
	assert.Equal(t, "git.status", got[0].ID)
}

func TestSearchCache_TTLExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	c.Set("q", sampleResults("a"))
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get("q"))
	assert.Equal(t, 0, c.Len())
}

func TestSearchCache_LRUEviction(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", sampleResults("a"))
	c.Set("b", sampleResults("b"))
	c.Set("c", sampleResults("c")) // evicts "a" (least recently touched)

	assert.Nil(t, c.Get("a"))
	assert.NotNil(t, c.Get("b"))
	assert.NotNil(t, c.Get("c"))
	assert.Equal(t, 2, c.Len())
}

func TestSearchCache_GetRefreshesRecency(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", sampleResults("a"))
	c.Set("b", sampleResults("b"))
	c.Get("a")                     // touch a, making b the LRU entry
	c.Set("c", sampleResults("c")) // should evict "b", not "a"

	assert.NotNil(t, c.Get("a"))
	assert.Nil(t, c.Get("b"))
	assert.NotNil(t, c.Get("c"))
}

func TestSearchCache_Clear(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("a", sampleResults("a"))
	c.Set("b", sampleResults("b"))

	removed := c.Clear()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.Len())
}

func TestSearchCache_RemoveExpired(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	c.Set("a", sampleResults("a"))
	time.Sleep(20 * time.Millisecond)
	c.Set("b", sampleResults("b"))

	removed := c.RemoveExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.Get("b"))
}

func TestSearchCache_Stats(t *testing.T) {
	c := New(5, time.Minute)
	c.Set("a", sampleResults("a"))
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 5, stats.MaxSize)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestSearchCache_DefaultsOnInvalidArgs(t *testing.T) {
	c := New(0, 0)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
	assert.Equal(t, DefaultTTL, c.ttl)
}
