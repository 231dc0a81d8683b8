package linkgraph

import (
	"context"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Proximity boost tuning defaults.
const (
	DefaultLinkBoost          = 0.12
	DefaultTagBoost           = 0.08
	DefaultMaxLinkHops        = 2
	DefaultMaxStems           = 8
	DefaultStemCacheTTL       = 60 * time.Second
	DefaultProximityTimeout   = 5 * time.Second
	DefaultMaxParallelStems   = 3
	DefaultNeighborLimitFloor = 12
	DefaultNeighborLimitCap   = 24
)

var hex32RE = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// IsNoteStem reports whether value looks like a human-routable note
// stem/path rather than an opaque identifier: UUIDs and bare 32-char hex
// hashes (content-addressed chunk ids) are excluded.
func IsNoteStem(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if _, err := uuid.Parse(value); err == nil {
		return false
	}
	return !hex32RE.MatchString(value)
}

// stemOf extracts the filename stem (basename without extension) from a
// source path, mirroring Python's Path(source).stem.
func stemOf(source string) string {
	base := path.Base(source)
	if ext := path.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

type stemCacheEntry struct {
	links     map[string]bool
	tags      map[string]bool
	expiresAt time.Time
}

// ProximityConfig tunes the booster.
type ProximityConfig struct {
	LinkBoost          float64
	TagBoost           float64
	MaxHops            int
	MaxStems           int
	StemCacheTTL       time.Duration
	Timeout            time.Duration
	MaxParallelStems   int
	NeighborLimitFloor int
	NeighborLimitCap   int
}

// DefaultProximityConfig returns the tuned defaults.
func DefaultProximityConfig() ProximityConfig {
	return ProximityConfig{
		LinkBoost:          DefaultLinkBoost,
		TagBoost:           DefaultTagBoost,
		MaxHops:            DefaultMaxLinkHops,
		MaxStems:           DefaultMaxStems,
		StemCacheTTL:       DefaultStemCacheTTL,
		Timeout:            DefaultProximityTimeout,
		MaxParallelStems:   DefaultMaxParallelStems,
		NeighborLimitFloor: DefaultNeighborLimitFloor,
		NeighborLimitCap:   DefaultNeighborLimitCap,
	}
}

// Booster boosts hybrid search result scores using link-graph proximity and
// shared tags between the stems backing each result.
type Booster struct {
	config  ProximityConfig
	backend Backend
	planner *Planner // optional: consulted for the "recent timeout" skip

	mu        sync.Mutex
	stemCache map[string]stemCacheEntry // key: backendName + "\x00" + stem
}

// NewBooster creates a booster bound to backend. planner may be nil; when
// set, a query that just suffered a graph-search timeout skips its own
// backend round trip (the marker is consumed exactly once).
func NewBooster(backend Backend, planner *Planner, cfg ProximityConfig) *Booster {
	return &Booster{
		config:    cfg,
		backend:   backend,
		planner:   planner,
		stemCache: make(map[string]stemCacheEntry),
	}
}

func (b *Booster) resolveNeighborLimit(stemCount int) int {
	auto := stemCount * 3
	if auto < b.config.NeighborLimitFloor {
		auto = b.config.NeighborLimitFloor
	}
	if auto > b.config.NeighborLimitCap {
		auto = b.config.NeighborLimitCap
	}
	return auto
}

func (b *Booster) resolveMaxParallelStems(stemCount int) int {
	if stemCount < 1 {
		stemCount = 1
	}
	if b.config.MaxParallelStems < stemCount {
		return b.config.MaxParallelStems
	}
	return stemCount
}

type stemContext struct {
	links map[string]bool
	tags  map[string]bool
}

func (b *Booster) fetchStemContext(ctx context.Context, stem string, neighborLimit int) stemContext {
	cacheKey := b.backend.BackendName() + "\x00" + stem
	now := time.Now()

	b.mu.Lock()
	if entry, ok := b.stemCache[cacheKey]; ok && b.config.StemCacheTTL > 0 && now.Before(entry.expiresAt) {
		b.mu.Unlock()
		return stemContext{links: entry.links, tags: entry.tags}
	}
	b.mu.Unlock()

	links := make(map[string]bool)
	tags := make(map[string]bool)

	neighbors, err := b.backend.Neighbors(ctx, stem, DirectionBoth, maxInt(1, b.config.MaxHops), neighborLimit)
	if err == nil {
		for _, n := range neighbors {
			if IsNoteStem(n.Stem) {
				links[n.Stem] = true
			}
		}
	}
	if b.config.TagBoost > 1e-9 {
		if meta, err := b.backend.Metadata(ctx, stem); err == nil {
			for _, t := range meta.Tags {
				if strings.TrimSpace(t) != "" {
					tags[t] = true
				}
			}
		}
	}

	if b.config.StemCacheTTL > 0 {
		b.mu.Lock()
		b.stemCache[cacheKey] = stemCacheEntry{links: links, tags: tags, expiresAt: now.Add(b.config.StemCacheTTL)}
		b.mu.Unlock()
	}
	return stemContext{links: links, tags: tags}
}

// Boost applies link and tag proximity boosts to results in place and
// returns them re-sorted by score descending. Fewer than two results is a
// no-op. A live "recent graph search timeout" marker for query skips the
// backend round trip entirely and returns results unchanged.
func (b *Booster) Boost(ctx context.Context, results []*RoutingScored, query string) []*RoutingScored {
	if len(results) < 2 {
		return results
	}
	if b.planner != nil && b.planner.TakeRecentTimeout(query) {
		return results
	}
	if b.backend == nil {
		return results
	}

	stems := collectBoostableStems(results, b.config.MaxStems)
	if len(stems) == 0 {
		return results
	}

	neighborLimit := b.resolveNeighborLimit(len(stems))
	maxParallel := b.resolveMaxParallelStems(len(stems))

	boostCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	stemLinks := make(map[string]map[string]bool, len(stems))
	stemTags := make(map[string]map[string]bool, len(stems))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(boostCtx)
	g.SetLimit(maxParallel)
	for _, stem := range stems {
		stem := stem
		g.Go(func() error {
			sc := b.fetchStemContext(gctx, stem, neighborLimit)
			mu.Lock()
			stemLinks[stem] = sc.links
			stemTags[stem] = sc.tags
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // partial results on timeout/cancel are still applied

	applyProximityBoost(results, stemLinks, stemTags, b.config.LinkBoost, b.config.TagBoost)
	return results
}

// RoutingScored is the minimal shape the proximity booster needs: a source
// path (for stem derivation) and a mutable score.
type RoutingScored struct {
	Source string
	Score  float64
}

func collectBoostableStems(results []*RoutingScored, maxStems int) []string {
	seen := make(map[string]bool)
	var stems []string
	for _, r := range results {
		if r.Source == "" {
			continue
		}
		stem := stemOf(r.Source)
		if stem == "" || !IsNoteStem(stem) || seen[stem] {
			continue
		}
		seen[stem] = true
		stems = append(stems, stem)
		if len(stems) >= maxStems {
			break
		}
	}
	return stems
}

// applyProximityBoost is the pure boost-application function: given the
// fetched link/tag graph, it rewards result pairs whose stems are linked or
// share a tag, then sorts by score descending. Grounded on the Python
// fallback applier for when no native accelerator is available — this is
// the only code path in this port, since there is no Rust helper to call.
func applyProximityBoost(results []*RoutingScored, stemLinks, stemTags map[string]map[string]bool, linkBoost, tagBoost float64) {
	for i, r1 := range results {
		stem1 := stemOf(r1.Source)
		if stem1 == "" {
			continue
		}
		if _, ok := stemLinks[stem1]; !ok {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			r2 := results[j]
			stem2 := stemOf(r2.Source)
			if stem2 == "" {
				continue
			}
			if _, ok := stemLinks[stem2]; !ok {
				continue
			}
			if stemLinks[stem1][stem2] || stemLinks[stem2][stem1] {
				r1.Score += linkBoost
				r2.Score += linkBoost
			}
			if sharesTag(stemTags[stem1], stemTags[stem2]) {
				r1.Score += tagBoost
				r2.Score += tagBoost
			}
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func sharesTag(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for t := range small {
		if big[t] {
			return true
		}
	}
	return false
}
