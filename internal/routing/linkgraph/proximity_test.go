package linkgraph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsNoteStem_ExcludesUUIDsAndHexHashes(t *testing.T) {
	assert.False(t, IsNoteStem(uuid.New().String()))
	assert.False(t, IsNoteStem("0123456789abcdef0123456789abcdef"))
	assert.False(t, IsNoteStem(""))
	assert.False(t, IsNoteStem("   "))
	assert.True(t, IsNoteStem("routing-policy"))
	assert.True(t, IsNoteStem("2026-project-plan"))
}

func TestStemOf_MirrorsPathStem(t *testing.T) {
	assert.Equal(t, "routing-policy", stemOf("/notes/routing-policy.md"))
	assert.Equal(t, "readme", stemOf("readme"))
	assert.Equal(t, "archive.tar", stemOf("/backups/archive.tar.gz"))
}

func TestSharesTag_DetectsOverlapRegardlessOfOrder(t *testing.T) {
	a := map[string]bool{"go": true, "routing": true}
	b := map[string]bool{"python": true, "routing": true}
	assert.True(t, sharesTag(a, b))
	assert.True(t, sharesTag(b, a))
	assert.False(t, sharesTag(a, map[string]bool{"python": true}))
	assert.False(t, sharesTag(nil, b))
}

func TestCollectBoostableStems_SkipsNonStemSourcesAndDedupsAndCaps(t *testing.T) {
	id := uuid.New().String()
	results := []*RoutingScored{
		{Source: "/a.md"},
		{Source: "/a.md"}, // duplicate stem
		{Source: "/" + id + ".md"},
		{Source: "/b.md"},
		{Source: ""},
	}
	stems := collectBoostableStems(results, 2)
	assert.Equal(t, []string{"a", "b"}, stems)
}

func TestApplyProximityBoost_RewardsLinkedAndTaggedPairs(t *testing.T) {
	results := []*RoutingScored{
		{Source: "/a.md", Score: 0.5},
		{Source: "/b.md", Score: 0.4},
		{Source: "/c.md", Score: 0.6},
	}
	stemLinks := map[string]map[string]bool{
		"a": {"b": true},
		"b": {},
		"c": {},
	}
	stemTags := map[string]map[string]bool{
		"a": {"go": true},
		"b": {"go": true},
		"c": {},
	}
	applyProximityBoost(results, stemLinks, stemTags, 0.12, 0.08)

	byStem := make(map[string]float64)
	for _, r := range results {
		byStem[stemOf(r.Source)] = r.Score
	}
	assert.InDelta(t, 0.5+0.12+0.08, byStem["a"], 1e-9)
	assert.InDelta(t, 0.4+0.12+0.08, byStem["b"], 1e-9)
	assert.InDelta(t, 0.6, byStem["c"], 1e-9)
	// results must be re-sorted by score descending
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.GreaterOrEqual(t, results[1].Score, results[2].Score)
}

type fakeProximityBackend struct {
	name      string
	neighbors map[string][]Neighbor
	tags      map[string][]string
	calls     int
}

func (f *fakeProximityBackend) BackendName() string { return f.name }
func (f *fakeProximityBackend) SearchPlanned(ctx context.Context, query string, limit int, opts SearchOptions) (SearchPayload, error) {
	return SearchPayload{}, nil
}
func (f *fakeProximityBackend) Neighbors(ctx context.Context, stem string, dir Direction, hops, limit int) ([]Neighbor, error) {
	f.calls++
	return f.neighbors[stem], nil
}
func (f *fakeProximityBackend) Metadata(ctx context.Context, stem string) (Metadata, error) {
	return Metadata{Tags: f.tags[stem]}, nil
}
func (f *fakeProximityBackend) Related(ctx context.Context, opts RelatedOptions, seeds []string) ([]Hit, error) {
	return nil, nil
}
func (f *fakeProximityBackend) TOC(ctx context.Context, stem string, maxDepth int) (TOCEntry, error) {
	return TOCEntry{}, nil
}
func (f *fakeProximityBackend) Stats(ctx context.Context) (Stats, error) {
	return Stats{}, nil
}
func (f *fakeProximityBackend) RefreshWithDelta(ctx context.Context, changes []DeltaChange) error {
	return nil
}
func (f *fakeProximityBackend) CreateNote(ctx context.Context, draft NoteDraft) error {
	return nil
}

func TestBooster_Boost_NoOpBelowTwoResults(t *testing.T) {
	b := NewBooster(&fakeProximityBackend{name: "fake"}, nil, DefaultProximityConfig())
	results := []*RoutingScored{{Source: "/a.md", Score: 1}}
	out := b.Boost(context.Background(), results, "q")
	assert.Equal(t, results, out)
}

func TestBooster_Boost_SkipsWhenRecentTimeoutMarkerLive(t *testing.T) {
	cfg := DefaultPolicyConfig()
	planner := NewPlanner(nil, cfg)
	planner.NoteTimeout("q")

	backend := &fakeProximityBackend{name: "fake"}
	b := NewBooster(backend, planner, DefaultProximityConfig())
	results := []*RoutingScored{{Source: "/a.md", Score: 0.5}, {Source: "/b.md", Score: 0.4}}

	out := b.Boost(context.Background(), results, "q")
	assert.Equal(t, results, out)
	assert.Zero(t, backend.calls)
}

func TestBooster_Boost_AppliesLinkBoostFromBackend(t *testing.T) {
	backend := &fakeProximityBackend{
		name: "fake",
		neighbors: map[string][]Neighbor{
			"a": {{Stem: "b", Hops: 1}},
			"b": {{Stem: "a", Hops: 1}},
		},
	}
	b := NewBooster(backend, nil, DefaultProximityConfig())
	results := []*RoutingScored{{Source: "/a.md", Score: 0.5}, {Source: "/b.md", Score: 0.4}}

	out := b.Boost(context.Background(), results, "q")
	var scoreA, scoreB float64
	for _, r := range out {
		switch stemOf(r.Source) {
		case "a":
			scoreA = r.Score
		case "b":
			scoreB = r.Score
		}
	}
	assert.InDelta(t, 0.5+DefaultLinkBoost, scoreA, 1e-9)
	assert.InDelta(t, 0.4+DefaultLinkBoost, scoreB, 1e-9)
}

func TestBooster_ResolveNeighborLimit_ClampedToFloorAndCap(t *testing.T) {
	b := NewBooster(&fakeProximityBackend{name: "fake"}, nil, DefaultProximityConfig())
	assert.Equal(t, DefaultNeighborLimitFloor, b.resolveNeighborLimit(1))
	assert.Equal(t, DefaultNeighborLimitCap, b.resolveNeighborLimit(100))
}

func TestBooster_ResolveMaxParallelStems_NeverExceedsStemCount(t *testing.T) {
	b := NewBooster(&fakeProximityBackend{name: "fake"}, nil, DefaultProximityConfig())
	assert.Equal(t, 1, b.resolveMaxParallelStems(1))
	assert.Equal(t, DefaultMaxParallelStems, b.resolveMaxParallelStems(100))
}

func TestBooster_FetchStemContext_CachesWithinTTL(t *testing.T) {
	backend := &fakeProximityBackend{
		name:      "fake",
		neighbors: map[string][]Neighbor{"a": {{Stem: "b", Hops: 1}}},
	}
	cfg := DefaultProximityConfig()
	cfg.StemCacheTTL = time.Minute
	b := NewBooster(backend, nil, cfg)

	ctx := context.Background()
	b.fetchStemContext(ctx, "a", 10)
	b.fetchStemContext(ctx, "a", 10)
	assert.Equal(t, 1, backend.calls)
}
