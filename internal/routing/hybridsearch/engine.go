// Package hybridsearch runs BM25 and vector search over the routing core's
// native store in parallel and fuses them with Reciprocal Rank Fusion,
// reusing the code-search engine's fusion math but returning routing's own
// result shape so the link graph and skill router can enrich it further.
package hybridsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/routing"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("hybridsearch: nil dependency")

// ContentStore resolves the indexed content behind a fused result's id.
// Deliberately narrower than store.MetadataStore: routing candidates are
// tool/command records, not chunk/file/project rows, so only batch content
// lookup by id is needed.
type ContentStore interface {
	GetDocuments(ctx context.Context, ids []string) ([]*store.Document, error)
}

// ContentWriter is implemented by a ContentStore that also accepts upserts
// and deletes, split out from ContentStore so read-only backends remain
// valid implementations.
type ContentWriter interface {
	ContentStore
	Put(id, content string)
	Delete(id string)
}

// MetadataAnnotator supplies the type/skill_name/command/weight metadata map
// for an indexed id, so enriched results carry the fields the router and
// boost stages need without hybridsearch depending on toolindex directly.
// *toolindex.SkillIndexer satisfies this interface as-is.
type MetadataAnnotator interface {
	MetadataFor(id string) (map[string]string, bool)
}

// GraphReranker reorders already-fused-and-boosted results using link-graph
// relationship signals (sibling/related-note proximity). *linkgraph.Booster
// is wired in through a small adapter in bootstrap, since linkgraph must not
// be imported from here (it already imports routing, and hybridsearch must
// stay usable without a graph backend at all).
type GraphReranker interface {
	Boost(ctx context.Context, results []*routing.RoutingSearchResult, query string) []*routing.RoutingSearchResult
}

// Option configures optional Engine collaborators at construction time.
type Option func(*Engine)

// WithGraphReranker wires a link-graph rerank stage into SearchDefault's
// pipeline, run after the boost stages and before confidence recalibration.
func WithGraphReranker(g GraphReranker) Option {
	return func(e *Engine) { e.graphRanker = g }
}

// WithMetadataAnnotator wires a metadata source into enrich, so returned
// results carry Metadata without a caller needing to backfill it.
func WithMetadataAnnotator(a MetadataAnnotator) Option {
	return func(e *Engine) { e.annotator = a }
}

// Config tunes the engine's defaults.
type Config struct {
	DefaultLimit  int
	MaxLimit      int
	RRFConstant   int
	SearchTimeout time.Duration
}

// DefaultConfig returns sensible defaults, matching the code-search engine's.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:  10,
		MaxLimit:      100,
		RRFConstant:   search.DefaultRRFConstant,
		SearchTimeout: 5 * time.Second,
	}
}

// Engine is the routing core's hybrid search pipeline: BM25 + vector search
// over a shared store, fused via RRF. It is deliberately narrower than
// search.Engine (no adjacent-chunk enrichment, no reranker) because routing
// candidates are short tool/command descriptions, not code chunks.
type Engine struct {
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	metadata ContentStore
	config   Config
	fusion   *search.RRFFusion

	annotator   MetadataAnnotator // optional; backfills Metadata on enriched results
	graphRanker GraphReranker     // optional; reranks SearchDefault's results via link-graph signals
}

// SetMetadataAnnotator wires a metadata annotator in after construction, for
// callers (like bootstrap.New) whose annotator itself wraps this Engine and
// so cannot be built before it.
func (e *Engine) SetMetadataAnnotator(a MetadataAnnotator) { e.annotator = a }

// New creates a hybrid search engine over the given native store backends.
func New(bm25 store.BM25Index, vector store.VectorStore, embedder embed.Embedder, metadata ContentStore, cfg Config, opts ...Option) (*Engine, error) {
	if bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = search.DefaultRRFConstant
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	e := &Engine{
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		config:   cfg,
		fusion:   search.NewRRFFusionWithK(cfg.RRFConstant),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search runs the BM25/vector fan-out, fuses results, and enriches them with
// stored content and metadata.
func (e *Engine) Search(ctx context.Context, query string, limit int, weights search.Weights) ([]*routing.RoutingSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}

	searchCtx := ctx
	var cancel context.CancelFunc
	if e.config.SearchTimeout > 0 {
		searchCtx, cancel = context.WithTimeout(ctx, e.config.SearchTimeout)
		defer cancel()
	}

	bm25Results, vecResults, err := e.parallelSearch(searchCtx, query, limit*2)
	if err != nil && bm25Results == nil && vecResults == nil {
		return nil, err
	}

	fused := e.fusion.Fuse(bm25Results, vecResults, weights)
	enriched, err := e.enrich(ctx, fused)
	if err != nil {
		return nil, err
	}
	if len(enriched) > limit {
		enriched = enriched[:limit]
	}
	return enriched, nil
}

// SearchDefault is the engine's full query pipeline: decompose the query
// into searchable text plus parameter hints (currently URLs), classify its
// intent, derive fusion weights and a candidate pool size from that intent,
// run Search over the widened pool, apply the attribute/intent/schema-weight/
// research-over-url boosts, optionally rerank with link-graph relationship
// signals, recalibrate each result's confidence, and truncate to limit. It
// matches the narrow (ctx, query, limit) Searcher shape shared by
// router.Searcher and discovery.Searcher, so *Engine can be wired into
// either directly.
func (e *Engine) SearchDefault(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}

	intent := ClassifyIntent(query)
	weights := weightsForIntent(intent)
	candidateLimit := limit * candidateMultiplierForIntent(intent)
	if candidateLimit > e.config.MaxLimit {
		candidateLimit = e.config.MaxLimit
	}

	results, err := e.Search(ctx, intent.Text, candidateLimit, weights)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	results = ApplyAttributeBoost(results, intent)
	results = ApplyIntentBoost(results, intent)
	results = ApplySchemaWeightBoost(results)
	results = ApplyResearchOverURLBoost(results, intent)

	if e.graphRanker != nil && len(results) > 1 {
		results = e.graphRanker.Boost(ctx, results, query)
	}

	Recalibrate(results)

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// IndexableDoc is one content unit to add to the engine's indices.
type IndexableDoc struct {
	ID      string
	Content string
}

// Index embeds and adds docs to both the BM25 and vector indices, and
// upserts their content into the backing ContentStore (which must also
// implement ContentWriter; the routing core always wires a
// MemoryContentStore, which does).
func (e *Engine) Index(ctx context.Context, docs []IndexableDoc) error {
	if len(docs) == 0 {
		return nil
	}
	writer, ok := e.metadata.(ContentWriter)
	if !ok {
		return fmt.Errorf("hybridsearch: content store does not support writes")
	}

	storeDocs := make([]*store.Document, len(docs))
	texts := make([]string, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		storeDocs[i] = &store.Document{ID: d.ID, Content: d.Content}
		texts[i] = d.Content
		ids[i] = d.ID
	}

	if err := e.bm25.Index(ctx, storeDocs); err != nil {
		return fmt.Errorf("hybridsearch: bm25 index: %w", err)
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("hybridsearch: embed batch: %w", err)
	}
	if err := e.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("hybridsearch: vector add: %w", err)
	}

	for _, d := range docs {
		writer.Put(d.ID, d.Content)
	}
	return nil
}

// Delete removes ids from both indices and the content store.
func (e *Engine) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.bm25.Delete(ctx, ids); err != nil {
		return fmt.Errorf("hybridsearch: bm25 delete: %w", err)
	}
	if err := e.vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("hybridsearch: vector delete: %w", err)
	}
	if writer, ok := e.metadata.(ContentWriter); ok {
		for _, id := range ids {
			writer.Delete(id)
		}
	}
	return nil
}

func (e *Engine) parallelSearch(ctx context.Context, query string, limit int) ([]*store.BM25Result, []*store.VectorResult, error) {
	g, gctx := errgroup.WithContext(ctx)

	var bm25Results []*store.BM25Result
	var vecResults []*store.VectorResult
	var bm25Err, vecErr error

	g.Go(func() error {
		var err error
		bm25Results, err = e.bm25.Search(gctx, query, limit)
		if err != nil {
			bm25Err = err
		}
		return nil
	})

	g.Go(func() error {
		embedding, err := e.embedder.Embed(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vecResults, err = e.vector.Search(gctx, embedding, limit)
		if err != nil {
			vecErr = err
		}
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if bm25Err != nil && vecErr != nil {
		return nil, nil, errors.Join(bm25Err, vecErr)
	}
	if bm25Err != nil {
		slog.Debug("hybridsearch: bm25 search failed, continuing with vector only", slog.String("error", bm25Err.Error()))
		return nil, vecResults, nil
	}
	if vecErr != nil {
		slog.Debug("hybridsearch: vector search failed, continuing with bm25 only", slog.String("error", vecErr.Error()))
		return bm25Results, nil, nil
	}
	return bm25Results, vecResults, nil
}

func (e *Engine) enrich(ctx context.Context, fused []*search.FusedResult) ([]*routing.RoutingSearchResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	docs, err := e.metadata.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hybridsearch: fetch documents: %w", err)
	}
	byID := make(map[string]*store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]*routing.RoutingSearchResult, 0, len(fused))
	for _, f := range fused {
		doc, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		result := &routing.RoutingSearchResult{
			ID:          f.ChunkID,
			Content:     doc.Content,
			Score:       f.RRFScore,
			BM25Score:   f.BM25Score,
			VecScore:    f.VecScore,
			InBothLists: f.InBothLists,
			Source:      f.ChunkID,
		}
		if e.annotator != nil {
			if meta, ok := e.annotator.MetadataFor(f.ChunkID); ok {
				result.Metadata = meta
			}
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}
