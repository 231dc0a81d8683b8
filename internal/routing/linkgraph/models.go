// Package linkgraph provides the link-graph backend contract, retrieval
// policy planner, and proximity booster used to fuse graph-derived signal
// into hybrid search.
package linkgraph

import (
	"context"
	"errors"
)

// ErrBackendUnavailable is returned by a Backend method when the underlying
// graph store cannot be reached at all (as opposed to returning zero hits),
// so callers such as Planner.Plan can distinguish "no graph configured" from
// "graph configured but the query matched nothing."
var ErrBackendUnavailable = errors.New("linkgraph: backend unavailable")

// Direction selects which edge direction a neighbor query traverses.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
	DirectionBoth
)

// Hit is one candidate surfaced by a backend's graph-aware search.
type Hit struct {
	Stem  string  // note/document stem identity
	Path  string  // source path, if known
	Score float64
}

// Neighbor is one stem reachable from another within a hop budget.
type Neighbor struct {
	Stem string
	Hops int
}

// Metadata is the tag/attribute payload attached to a stem.
type Metadata struct {
	Tags []string
}

// SearchOptions tunes how a backend executes its planned search.
type SearchOptions struct {
	MatchStrategy string // "fts" | "exact" | "path_fuzzy"
	CaseSensitive bool
}

// SearchPayload is the contract a backend's SearchPlanned call must return.
type SearchPayload struct {
	Hits          []Hit
	Query         string
	MatchStrategy string
}

// RelatedOptions narrows a Related query: a reduced, pure-Go stand-in for
// the original's personalized-PageRank options (alpha/max_iter/tol/
// subgraph_mode) — this port approximates PPR with bounded BFS weighted by
// inverse hop distance rather than running an iterative rank computation.
type RelatedOptions struct {
	MaxDistance int
	Limit       int
}

// TOCEntry is one node in a stem's table-of-contents tree (itself and its
// outbound neighbors, recursively, up to a depth cutoff).
type TOCEntry struct {
	Stem     string
	Path     string
	Children []TOCEntry
}

// NoteDraft is the payload CreateNote persists as a new graph document.
type NoteDraft struct {
	Stem    string
	Path    string
	Content string
	Tags    []string
}

// DeltaChange describes one edge/tag mutation applied by RefreshWithDelta,
// grounded on the original's incremental reindex contract: callers push
// just what changed instead of forcing a full graph rebuild.
type DeltaChange struct {
	Stem        string
	AddEdges    []string
	RemoveEdges []string
	Tags        []string // replaces the stem's tag set when non-nil
}

// Backend is the link-graph data source contract. Implementations may be
// backed by a native graph store (Wendao) or, in tests, an in-memory fake.
// Every method returns ErrBackendUnavailable (wrapped) when the backend
// cannot be reached at all, distinct from a successful call that simply
// found nothing.
type Backend interface {
	// BackendName identifies the backend for telemetry and cache keys.
	BackendName() string

	// SearchPlanned runs a graph-aware search for query, honoring options.
	SearchPlanned(ctx context.Context, query string, limit int, options SearchOptions) (SearchPayload, error)

	// Neighbors returns stems reachable from stem within hops, in the given
	// direction, capped at limit.
	Neighbors(ctx context.Context, stem string, direction Direction, hops, limit int) ([]Neighbor, error)

	// Metadata returns the tag/attribute payload for stem.
	Metadata(ctx context.Context, stem string) (Metadata, error)

	// Related returns stems graph-close to any of opts' seeds, ranked by
	// inverse hop distance (the PPR-lite approximation described on
	// RelatedOptions).
	Related(ctx context.Context, opts RelatedOptions, seeds []string) ([]Hit, error)

	// TOC returns stem's outline: itself plus its outbound neighbors,
	// recursively, to maxDepth hops.
	TOC(ctx context.Context, stem string, maxDepth int) (TOCEntry, error)

	// Stats reports aggregate graph statistics (implements StatsProvider).
	Stats(ctx context.Context) (Stats, error)

	// RefreshWithDelta applies a batch of incremental edge/tag mutations
	// without requiring a full graph rebuild.
	RefreshWithDelta(ctx context.Context, changes []DeltaChange) error

	// CreateNote adds a new document to the graph.
	CreateNote(ctx context.Context, draft NoteDraft) error
}
