package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/routing"
	"github.com/Aman-CERP/amanmcp/internal/telemetry"
)

// ResultCache is the subset of cache.SearchCache the Service needs,
// narrowed to an interface so the facade doesn't force a concrete cache
// implementation on callers that want to swap it in tests.
type ResultCache interface {
	Get(query string) []*routing.RoutingSearchResult
	Set(query string, results []*routing.RoutingSearchResult)
}

// SkillSniffer is the subset of sniffer.IntentSniffer/ContextualSniffer the
// Service needs for a cwd-aware skill suggestion hint alongside routing.
type SkillSniffer interface {
	Sniff(cwd string) []string
}

// Service is the top-level facade wiring the routing core's pieces into a
// single entry point: cached hybrid search feeding OmniRouter's decision,
// plus an optional cwd sniff used to annotate which skills are locally
// relevant regardless of the query itself. This is the one-stop-shop a
// caller (e.g. the MCP tool layer) depends on instead of wiring the
// indexer/search/cache/router/sniffer pieces individually.
type Service struct {
	search  Searcher
	cache   ResultCache // optional
	omni    *OmniRouter
	sniffer SkillSniffer // optional
	metrics *telemetry.PrometheusRegistry // optional
}

// NewService creates the routing facade. cache and sniffer may be nil,
// disabling result caching and cwd sniffing respectively.
func NewService(search Searcher, cache ResultCache, omni *OmniRouter, sniffer SkillSniffer) *Service {
	return &Service{search: search, cache: cache, omni: omni, sniffer: sniffer}
}

// SetMetrics wires a Prometheus registry in after construction, so
// Search/Route record latency and decision counters for external scraping.
// A nil Service remains fully functional without it.
func (s *Service) SetMetrics(m *telemetry.PrometheusRegistry) { s.metrics = m }

// cachingSearcher adapts the Service's own cache onto the Searcher
// interface so OmniRouter's semantic tier benefits from it transparently.
type cachingSearcher struct {
	inner Searcher
	cache ResultCache
}

func (c *cachingSearcher) Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if c.cache != nil {
		if cached := c.cache.Get(key); cached != nil {
			return truncate(cached, limit), nil
		}
	}
	results, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, results)
	}
	return results, nil
}

func truncate(results []*routing.RoutingSearchResult, limit int) []*routing.RoutingSearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// RouteDecision is a Service.Route result: the routing outcome plus the
// cwd-derived skill hints that accompanied it.
type RouteDecision struct {
	Result     *routing.RouteResult // nil means escalate to the LLM planner
	SkillHints []string             // skills the sniffer thinks are relevant to cwd, if any
}

// Search exposes the facade's own cached hybrid search directly, for
// callers (e.g. a tool-discovery listing) that want ranked candidates
// without going through routing's threshold/decision logic.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error) {
	if s.search == nil {
		return nil, nil
	}
	start := time.Now()
	results, err := WrapCachingSearcher(s.search, s.cache).Search(ctx, query, limit)
	if s.metrics != nil {
		s.metrics.ObserveSearch("hybrid", time.Since(start))
	}
	return results, err
}

// Route resolves query to a command via OmniRouter, transparently caching
// the semantic search it performs, and attaches cwd skill hints when a
// sniffer is wired in. cwd may be empty to skip sniffing.
func (s *Service) Route(ctx context.Context, query string, threshold float64, cwd string) (*RouteDecision, error) {
	result, err := s.omni.Route(ctx, query, threshold)
	if err != nil {
		return nil, err
	}

	decision := &RouteDecision{Result: result}
	if cwd != "" && s.sniffer != nil {
		decision.SkillHints = s.sniffer.Sniff(cwd)
	}

	if result == nil {
		slog.Debug("routing service: no route decision, escalating", slog.String("query", query))
		if s.metrics != nil {
			s.metrics.ObserveRoute("none", false)
		}
	} else if s.metrics != nil {
		s.metrics.ObserveRoute(string(result.Confidence), result.CommandName != "")
	}
	return decision, nil
}

// WrapCachingSearcher returns a Searcher that transparently caches search's
// results through cache, for wiring into NewOmniRouter/NewSemanticRouter
// when a Service's own cache should also front the semantic tier.
func WrapCachingSearcher(search Searcher, cache ResultCache) Searcher {
	if cache == nil {
		return search
	}
	return &cachingSearcher{inner: search, cache: cache}
}
