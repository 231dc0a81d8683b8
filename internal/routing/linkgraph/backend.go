package linkgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NativeBackend is an in-process Backend implementation that keeps its edge
// and tag graph in memory, guarded by a RWMutex. It is the adapter shell for
// a persisted graph store: Wire a durable edge/tag loader through
// LoadEdges/LoadTags at startup and NativeBackend behaves exactly like a
// backend fronting an external graph engine, without requiring one to be
// present for the routing core to function.
type NativeBackend struct {
	name string

	mu        sync.RWMutex
	documents map[string]string   // stem -> path
	edges     map[string][]string // stem -> directly linked stems (undirected)
	tags      map[string][]string // stem -> tags
}

// NewNativeBackend creates an empty graph backend named name.
func NewNativeBackend(name string) *NativeBackend {
	if name == "" {
		name = "native"
	}
	return &NativeBackend{
		name:      name,
		documents: make(map[string]string),
		edges:     make(map[string][]string),
		tags:      make(map[string][]string),
	}
}

// BackendName implements Backend.
func (b *NativeBackend) BackendName() string { return b.name }

// AddDocument registers a stem's source path, making it discoverable by
// SearchPlanned's substring match over stems/paths.
func (b *NativeBackend) AddDocument(stem, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents[stem] = path
}

// AddEdge links two stems (undirected, deduplicated).
func (b *NativeBackend) AddEdge(stemA, stemB string) {
	if stemA == "" || stemB == "" || stemA == stemB {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges[stemA] = appendUnique(b.edges[stemA], stemB)
	b.edges[stemB] = appendUnique(b.edges[stemB], stemA)
}

// SetTags replaces the tag set attached to stem.
func (b *NativeBackend) SetTags(stem string, tags []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags[stem] = append([]string(nil), tags...)
}

// SearchPlanned implements Backend with a simple case-insensitive substring
// match over known stems and paths, scored by match position (earlier is
// better) and stem degree (more-linked stems rank slightly higher).
func (b *NativeBackend) SearchPlanned(_ context.Context, query string, limit int, options SearchOptions) (SearchPayload, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" || limit <= 0 {
		return SearchPayload{Query: query, MatchStrategy: options.MatchStrategy}, nil
	}

	var hits []Hit
	for stem, path := range b.documents {
		haystack := strings.ToLower(stem + " " + path)
		idx := strings.Index(haystack, needle)
		if idx < 0 {
			continue
		}
		positionScore := 1.0 / float64(1+idx)
		degreeScore := float64(len(b.edges[stem])) * 0.02
		hits = append(hits, Hit{Stem: stem, Path: path, Score: clamp01(positionScore + degreeScore)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Stem < hits[j].Stem
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return SearchPayload{Hits: hits, Query: query, MatchStrategy: options.MatchStrategy}, nil
}

// Neighbors implements Backend via BFS over the undirected edge map.
func (b *NativeBackend) Neighbors(_ context.Context, stem string, _ Direction, hops, limit int) ([]Neighbor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if hops <= 0 {
		hops = 1
	}
	visited := map[string]int{stem: 0}
	frontier := []string{stem}
	var out []Neighbor

	for depth := 1; depth <= hops && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range b.edges[cur] {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = depth
				next = append(next, n)
				out = append(out, Neighbor{Stem: n, Hops: depth})
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// Metadata implements Backend.
func (b *NativeBackend) Metadata(_ context.Context, stem string) (Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Metadata{Tags: append([]string(nil), b.tags[stem]...)}, nil
}

// Related implements Backend with the PPR-lite approximation described on
// RelatedOptions: a bounded BFS from every seed, scoring each reached stem
// by the inverse of its shortest hop distance to any seed (closer wins,
// multiple seeds reaching the same stem accumulate).
func (b *NativeBackend) Related(_ context.Context, opts RelatedOptions, seeds []string) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	maxDistance := opts.MaxDistance
	if maxDistance <= 0 {
		maxDistance = 2
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	scores := make(map[string]float64)
	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}

	for _, seed := range seeds {
		visited := map[string]int{seed: 0}
		frontier := []string{seed}
		for depth := 1; depth <= maxDistance && len(frontier) > 0; depth++ {
			var next []string
			for _, cur := range frontier {
				for _, n := range b.edges[cur] {
					if _, seen := visited[n]; seen {
						continue
					}
					visited[n] = depth
					next = append(next, n)
					if !seedSet[n] {
						scores[n] += 1.0 / float64(depth)
					}
				}
			}
			frontier = next
		}
	}

	hits := make([]Hit, 0, len(scores))
	for stem, score := range scores {
		hits = append(hits, Hit{Stem: stem, Path: b.documents[stem], Score: clamp01(score)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Stem < hits[j].Stem
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// TOC implements Backend by walking outbound edges from stem to maxDepth
// hops, building a tree of TOCEntry nodes. Cycles are broken by tracking
// visited stems.
func (b *NativeBackend) TOC(_ context.Context, stem string, maxDepth int) (TOCEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	visited := map[string]bool{stem: true}
	return b.buildTOC(stem, maxDepth, visited), nil
}

func (b *NativeBackend) buildTOC(stem string, depthRemaining int, visited map[string]bool) TOCEntry {
	entry := TOCEntry{Stem: stem, Path: b.documents[stem]}
	if depthRemaining <= 0 {
		return entry
	}
	for _, n := range b.edges[stem] {
		if visited[n] {
			continue
		}
		visited[n] = true
		entry.Children = append(entry.Children, b.buildTOC(n, depthRemaining-1, visited))
	}
	return entry
}

// Stats implements StatsProvider: total notes, stems with no edges at all
// (orphans), total undirected links, and stems participating in at least
// one link.
func (b *NativeBackend) Stats(_ context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{TotalNotes: len(b.documents)}
	linkCount := 0
	for stem := range b.documents {
		degree := len(b.edges[stem])
		if degree == 0 {
			stats.Orphans++
			continue
		}
		stats.NodesInGraph++
		linkCount += degree
	}
	stats.LinksInGraph = linkCount / 2
	return stats, nil
}

// RefreshWithDelta implements Backend by applying each change's edge
// additions/removals and tag replacement in place, without touching any
// stem not named in changes.
func (b *NativeBackend) RefreshWithDelta(_ context.Context, changes []DeltaChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range changes {
		if c.Stem == "" {
			continue
		}
		for _, add := range c.AddEdges {
			b.edges[c.Stem] = appendUnique(b.edges[c.Stem], add)
			b.edges[add] = appendUnique(b.edges[add], c.Stem)
		}
		for _, rm := range c.RemoveEdges {
			b.edges[c.Stem] = removeStr(b.edges[c.Stem], rm)
			b.edges[rm] = removeStr(b.edges[rm], c.Stem)
		}
		if c.Tags != nil {
			b.tags[c.Stem] = append([]string(nil), c.Tags...)
		}
	}
	return nil
}

// CreateNote implements Backend by registering draft as a new document.
func (b *NativeBackend) CreateNote(_ context.Context, draft NoteDraft) error {
	if draft.Stem == "" {
		return fmt.Errorf("linkgraph: create note: stem is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents[draft.Stem] = draft.Path
	if draft.Tags != nil {
		b.tags[draft.Stem] = append([]string(nil), draft.Tags...)
	}
	return nil
}

func removeStr(list []string, v string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
