// Package bootstrap wires the routing core's independent packages
// (hybridsearch, toolindex, sniffer, discovery, cache, router) into a
// single ready-to-use router.Service, the way cmd/amanmcp/cmd assembles
// the code-search engine from its own store/embedder pieces.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/routing"
	"github.com/Aman-CERP/amanmcp/internal/routing/cache"
	"github.com/Aman-CERP/amanmcp/internal/routing/discovery"
	"github.com/Aman-CERP/amanmcp/internal/routing/hybridsearch"
	"github.com/Aman-CERP/amanmcp/internal/routing/linkgraph"
	"github.com/Aman-CERP/amanmcp/internal/routing/router"
	"github.com/Aman-CERP/amanmcp/internal/routing/sniffer"
	"github.com/Aman-CERP/amanmcp/internal/routing/toolindex"
	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/Aman-CERP/amanmcp/internal/telemetry"
)

// Bootstrapped holds every piece New assembles, for callers that need to
// reach past the Service facade (e.g. to re-index after a skill changes).
type Bootstrapped struct {
	Service   *router.Service
	Indexer   *toolindex.SkillIndexer
	Discovery *discovery.SkillDiscoveryService
	Sniffer   *sniffer.IntentSniffer
	Metrics   *telemetry.PrometheusRegistry

	graphBackend linkgraph.Backend
	statsCache   *linkgraph.StatsCache
}

// Stats reports the link graph's size, consulting the bootstrap's
// StatsCache so repeated calls don't re-walk the backend on every request,
// and records whether the backend answered on the Prometheus gauge.
func (b *Bootstrapped) Stats(ctx context.Context) (linkgraph.Stats, linkgraph.StatsMeta) {
	provider, ok := b.graphBackend.(linkgraph.StatsProvider)
	if !ok {
		return linkgraph.Stats{}, linkgraph.StatsMeta{}
	}
	stats, meta := b.statsCache.Get(ctx, provider, linkgraph.Stats{})
	if b.Metrics != nil {
		b.Metrics.SetGraphBackendAvailable(b.graphBackend.BackendName(), meta.Source != "fallback")
	}
	return stats, meta
}

// engineSearcher adapts hybridsearch.Engine's 3-arg SearchDefault (which
// already runs the full boost/rerank/recalibrate pipeline, annotated and
// graph-reranked via the options passed to hybridsearch.New) onto
// router.Searcher/discovery.Searcher, and consults the link-graph planner
// so a confident graph-only plan can answer a query without ever touching
// the embedder or the hybrid engine at all.
type engineSearcher struct {
	eng     *hybridsearch.Engine
	indexer *toolindex.SkillIndexer
	planner *linkgraph.Planner
}

func (e *engineSearcher) fromGraphHits(hits []linkgraph.Hit) []*routing.RoutingSearchResult {
	results := make([]*routing.RoutingSearchResult, 0, len(hits))
	for _, h := range hits {
		result := &routing.RoutingSearchResult{ID: h.Stem, Source: h.Stem, Score: h.Score}
		if e.indexer != nil {
			if meta, ok := e.indexer.MetadataFor(h.Stem); ok {
				result.Metadata = meta
			}
		}
		results = append(results, result)
	}
	return results
}

func (e *engineSearcher) Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error) {
	if e.planner != nil {
		plan := e.planner.Plan(ctx, query, limit)
		if plan.SelectedMode == linkgraph.ModeGraphOnly && len(plan.GraphHits) > 0 {
			return truncateResults(e.fromGraphHits(plan.GraphHits), limit), nil
		}
	}

	return e.eng.SearchDefault(ctx, query, limit)
}

// graphRerankerAdapter lets *linkgraph.Booster satisfy hybridsearch's
// GraphReranker interface, converting to/from linkgraph.RoutingScored (the
// booster's minimal required shape) without hybridsearch importing linkgraph.
type graphRerankerAdapter struct{ booster *linkgraph.Booster }

func (g *graphRerankerAdapter) Boost(ctx context.Context, results []*routing.RoutingSearchResult, query string) []*routing.RoutingSearchResult {
	scored := make([]*linkgraph.RoutingScored, len(results))
	byIndex := make(map[*linkgraph.RoutingScored]*routing.RoutingSearchResult, len(results))
	for i, r := range results {
		s := &linkgraph.RoutingScored{Source: r.Source, Score: r.Score}
		scored[i] = s
		byIndex[s] = r
	}
	boosted := g.booster.Boost(ctx, scored, query)
	reordered := make([]*routing.RoutingSearchResult, 0, len(boosted))
	for _, s := range boosted {
		r := byIndex[s]
		if s.Score != r.Score {
			r.Boosts = append(r.Boosts, routing.BoostEntry{Kind: "proximity", Multiplier: s.Score / maxFloat(r.Score, 1e-9)})
			r.Score = s.Score
		}
		reordered = append(reordered, r)
	}
	return reordered
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func truncateResults(results []*routing.RoutingSearchResult, limit int) []*routing.RoutingSearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// engineIndexer adapts hybridsearch.Engine onto toolindex.Indexer: the two
// IndexableDoc types are structurally identical but distinct named types,
// so a converting adapter is required for the interface to be satisfied.
type engineIndexer struct{ eng *hybridsearch.Engine }

func (e *engineIndexer) Index(ctx context.Context, docs []toolindex.IndexableDoc) error {
	converted := make([]hybridsearch.IndexableDoc, len(docs))
	for i, d := range docs {
		converted[i] = hybridsearch.IndexableDoc{ID: d.ID, Content: d.Content}
	}
	return e.eng.Index(ctx, converted)
}

func (e *engineIndexer) Delete(ctx context.Context, ids []string) error {
	return e.eng.Delete(ctx, ids)
}

// staticToolSource implements discovery.Source over a fixed, in-process
// list of tool records, used when the routing core has no dedicated skill
// registry of its own to query.
type staticToolSource struct{ tools []*routing.ToolRecord }

func (s *staticToolSource) ListTools(ctx context.Context) ([]*routing.ToolRecord, error) {
	return s.tools, nil
}

// BuiltinTools describes amanmcp's own MCP tools as routable skill.commands,
// so the route tool can resolve a natural-language request to one of
// search/search_code/search_docs/index_status/route without a separate
// skill-manifest source.
func BuiltinTools() []*routing.ToolRecord {
	return []*routing.ToolRecord{
		{
			SkillName:   "amanmcp",
			Description: "Hybrid BM25 + semantic search over an indexed codebase, with skill.command routing for natural-language requests.",
			Intents:     []string{"search", "find", "lookup", "route"},
			Keywords:    []string{"search", "find", "code", "docs", "index", "route"},
			Commands: []routing.ToolCommand{
				{
					Name:        "search",
					Description: "Primary hybrid search over code and documentation.",
					Keywords:    []string{"search", "find", "lookup", "query"},
				},
				{
					Name:        "search_code",
					Description: "Code-specialized search for functions, classes, and implementations.",
					Keywords:    []string{"function", "class", "implementation", "symbol"},
				},
				{
					Name:        "search_docs",
					Description: "Documentation search that preserves section hierarchy.",
					Keywords:    []string{"docs", "documentation", "guide", "readme"},
				},
				{
					Name:        "index_status",
					Description: "Reports whether the codebase index is ready and which embedder is active.",
					Keywords:    []string{"status", "index", "ready", "embedder"},
				},
				{
					Name:        "route",
					Description: "Resolves a natural-language request to a specific skill.command invocation.",
					Keywords:    []string{"route", "dispatch", "command"},
				},
			},
		},
	}
}

// Config tunes the routing core's storage and cache sizing.
type Config struct {
	DataDir      string // directory the routing BM25/vector indices live under
	BM25Backend  string // "", "sqlite", or "memory"; empty defers to the store package default
	CacheMaxSize int
	CacheTTL     string // parsed with time.ParseDuration; empty uses cache.DefaultTTL

	// GraphBackend selects the link-graph implementation: "" or "native"
	// uses NativeBackend (populated from tools); "wendao" or "none" uses
	// WendaoAdapter, an always-unavailable shell for deployments with no
	// native graph store configured.
	GraphBackend string
}

// fileStateStore is a minimal toolindex.StateStore backed by a single JSON
// file under the routing data dir, used in place of a full store.MetadataStore
// (routing keeps its own small on-disk footprint rather than depending on
// the code-search engine's metadata database).
type fileStateStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

func newFileStateStore(dataDir string) *fileStateStore {
	s := &fileStateStore{path: filepath.Join(dataDir, "routing-state.json"), values: make(map[string]string)}
	raw, err := os.ReadFile(s.path)
	if err == nil {
		_ = json.Unmarshal(raw, &s.values)
	}
	return s
}

func (s *fileStateStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *fileStateStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	encoded, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("bootstrap: encode routing state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("bootstrap: create routing state dir: %w", err)
	}
	return os.WriteFile(s.path, encoded, 0o644)
}

// New builds the full routing core backed by its own BM25/vector indices
// (distinct from the code-search engine's; routing candidates are short
// tool/command descriptions, not code chunks, so they get their own small
// index) and indexes the given tool records into it.
func New(ctx context.Context, cfg Config, embedder embed.Embedder, tools []*routing.ToolRecord) (*Bootstrapped, error) {
	if embedder == nil {
		return nil, fmt.Errorf("bootstrap: embedder is required")
	}
	if len(tools) == 0 {
		tools = BuiltinTools()
	}

	bm25Path := filepath.Join(cfg.DataDir, "routing-bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25Path, store.DefaultBM25Config(), cfg.BM25Backend)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: bm25 index: %w", err)
	}

	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: vector store: %w", err)
	}

	var graphBackend linkgraph.Backend
	switch cfg.GraphBackend {
	case "wendao", "none":
		graphBackend = linkgraph.NewWendaoAdapter("toolgraph")
	default:
		native := linkgraph.NewNativeBackend("toolgraph")
		populateLinkGraph(native, tools)
		graphBackend = native
	}
	planner := linkgraph.NewPlanner(graphBackend, linkgraph.DefaultPolicyConfig())
	booster := linkgraph.NewBooster(graphBackend, planner, linkgraph.DefaultProximityConfig())
	statsCache := linkgraph.NewStatsCache(30*time.Second, 2*time.Second, 5*time.Second)

	content := hybridsearch.NewMemoryContentStore()
	engine, err := hybridsearch.New(bm25, vector, embedder, content, hybridsearch.DefaultConfig(),
		hybridsearch.WithGraphReranker(&graphRerankerAdapter{booster: booster}))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: hybrid engine: %w", err)
	}

	state := newFileStateStore(cfg.DataDir)
	indexer := toolindex.NewWithState(&engineIndexer{eng: engine}, state)
	indexer.LoadPersistedHash(ctx)
	if _, err := indexer.IndexTools(ctx, tools); err != nil {
		return nil, fmt.Errorf("bootstrap: index tools: %w", err)
	}
	engine.SetMetadataAnnotator(indexer)

	searcher := &engineSearcher{eng: engine, indexer: indexer, planner: planner}
	resultCache := cache.New(cfg.CacheMaxSize, 0)

	semantic := router.NewSemanticRouter(router.WrapCachingSearcher(searcher, resultCache))
	fallback := router.NewFallbackRouter()
	omni := router.NewOmniRouter(semantic, fallback, indexer)

	intentSniffer := sniffer.New()
	registerBuiltinActivationRules(intentSniffer, tools)

	svc := router.NewService(searcher, resultCache, omni, intentSniffer)
	metrics := telemetry.NewPrometheusRegistry()
	svc.SetMetrics(metrics)

	registry := discovery.NewToolRegistry(&staticToolSource{tools: tools})
	discoverySvc := discovery.NewSkillDiscoveryService(registry, searcher, nil)

	return &Bootstrapped{
		Service:      svc,
		Indexer:      indexer,
		Discovery:    discoverySvc,
		Sniffer:      intentSniffer,
		Metrics:      metrics,
		graphBackend: graphBackend,
		statsCache:   statsCache,
	}, nil
}

// populateLinkGraph registers every skill/command as a graph stem, linking
// sibling commands of the same skill together and tagging each stem with
// its skill's routing keywords: sibling commands are the one relationship
// this port can derive from a ToolRecord alone (no note-link corpus exists
// for routing candidates), giving the proximity booster something concrete
// to reward when a query's top hits already share a skill.
func populateLinkGraph(backend *linkgraph.NativeBackend, tools []*routing.ToolRecord) {
	for _, t := range tools {
		skillID := t.ID()
		backend.AddDocument(skillID, skillID)
		backend.SetTags(skillID, t.Keywords)

		var cmdIDs []string
		for _, cmd := range t.Commands {
			cmdID := routing.CommandID(t.SkillName, cmd.Name)
			cmdIDs = append(cmdIDs, cmdID)
			backend.AddDocument(cmdID, cmdID)
			backend.SetTags(cmdID, append(append([]string(nil), t.Keywords...), cmd.Keywords...))
			backend.AddEdge(skillID, cmdID)
		}
		for i := range cmdIDs {
			for j := i + 1; j < len(cmdIDs); j++ {
				backend.AddEdge(cmdIDs[i], cmdIDs[j])
			}
		}
	}
}

// registerBuiltinActivationRules wires one static rule per skill that
// declares routing keywords overlapping common project markers, so cwd
// sniffing has something to activate on even without a dedicated manifest.
func registerBuiltinActivationRules(s *sniffer.IntentSniffer, tools []*routing.ToolRecord) {
	for _, t := range tools {
		s.RegisterRule(sniffer.ActivationRule{
			SkillName: t.SkillName,
			Files:     map[string]bool{".amanmcp": true, "go.mod": true, "package.json": true},
		})
	}
}
