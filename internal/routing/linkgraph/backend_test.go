package linkgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeBackend_SearchPlanned_MatchesStemAndPath(t *testing.T) {
	b := NewNativeBackend("test")
	b.AddDocument("routing-policy", "/notes/routing-policy.md")
	b.AddDocument("unrelated", "/notes/unrelated.md")

	payload, err := b.SearchPlanned(context.Background(), "routing", 10, SearchOptions{MatchStrategy: "fts"})
	require.NoError(t, err)
	require.Len(t, payload.Hits, 1)
	assert.Equal(t, "routing-policy", payload.Hits[0].Stem)
}

func TestNativeBackend_SearchPlanned_EmptyQueryOrLimit(t *testing.T) {
	b := NewNativeBackend("test")
	b.AddDocument("a", "/a.md")

	payload, err := b.SearchPlanned(context.Background(), "   ", 10, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, payload.Hits)

	payload, err = b.SearchPlanned(context.Background(), "a", 0, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, payload.Hits)
}

func TestNativeBackend_SearchPlanned_RanksByDegreeThenPosition(t *testing.T) {
	b := NewNativeBackend("test")
	b.AddDocument("alpha-note", "/alpha-note.md")
	b.AddDocument("beta-note", "/beta-note.md")
	b.AddEdge("beta-note", "alpha-note")
	b.AddEdge("beta-note", "other")

	payload, err := b.SearchPlanned(context.Background(), "note", 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, payload.Hits, 2)
	assert.Equal(t, "beta-note", payload.Hits[0].Stem)
}

func TestNativeBackend_Neighbors_BFSRespectsHopsAndLimit(t *testing.T) {
	b := NewNativeBackend("test")
	b.AddEdge("a", "b")
	b.AddEdge("b", "c")
	b.AddEdge("c", "d")

	one, err := b.Neighbors(context.Background(), "a", DirectionBoth, 1, 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Stem)

	two, err := b.Neighbors(context.Background(), "a", DirectionBoth, 2, 10)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	limited, err := b.Neighbors(context.Background(), "a", DirectionBoth, 3, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNativeBackend_Metadata_ReturnsTagsCopy(t *testing.T) {
	b := NewNativeBackend("test")
	b.SetTags("note", []string{"go", "routing"})

	meta, err := b.Metadata(context.Background(), "note")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"go", "routing"}, meta.Tags)

	meta.Tags[0] = "mutated"
	meta2, _ := b.Metadata(context.Background(), "note")
	assert.NotEqual(t, "mutated", meta2.Tags[0])
}

func TestNativeBackend_BackendName_DefaultsWhenEmpty(t *testing.T) {
	assert.Equal(t, "native", NewNativeBackend("").BackendName())
	assert.Equal(t, "custom", NewNativeBackend("custom").BackendName())
}

func TestNativeBackend_AddEdge_IgnoresSelfAndEmpty(t *testing.T) {
	b := NewNativeBackend("test")
	b.AddEdge("a", "a")
	b.AddEdge("a", "")
	b.AddEdge("", "b")

	neighbors, err := b.Neighbors(context.Background(), "a", DirectionBoth, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}
