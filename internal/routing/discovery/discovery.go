package discovery

import (
	"context"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

// Searcher is the hybrid-search tier SkillDiscoveryService prefers when
// available; matches router.Searcher's signature so the same
// hybridsearch.Engine wiring serves both packages.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error)
}

// ToolMatch is one ranked result of a discovery query.
type ToolMatch struct {
	CommandID     string
	SkillName     string
	Description   string
	Score         float64
	MatchedIntent string
	UsageTemplate string
}

// discoverFallbackID is returned as a single low-score match when neither
// the hybrid searcher nor the keyword fallback find anything, pointing the
// caller at the discovery skill itself rather than returning nothing.
const discoverFallbackID = "skill.discover"

// categoryBoosts maps a set of trigger words to the categories they should
// boost during fallback keyword search, letting a handful of domain terms
// steer matching toward the right skill family even without an embedder.
var categoryBoosts = map[string][]string{
	"code":     {"engineering", "code_tools", "development"},
	"refactor": {"engineering", "code_tools", "development"},
	"function": {"engineering", "code_tools", "development"},
	"class":    {"engineering", "code_tools", "development"},
	"import":   {"engineering", "code_tools", "development"},
	"file":     {"filesystem", "file_tools"},
	"read":     {"filesystem", "file_tools"},
	"write":    {"filesystem", "file_tools"},
	"edit":     {"filesystem", "file_tools"},
	"delete":   {"filesystem", "file_tools"},
	"search":   {"search", "query_tools"},
	"find":     {"search", "query_tools"},
	"grep":     {"search", "query_tools"},
	"git":      {"version_control", "git"},
	"commit":   {"version_control", "git"},
	"branch":   {"version_control", "git"},
	"merge":    {"version_control", "git"},
	"push":     {"version_control", "git"},
	"test":     {"testing", "qa"},
	"coverage": {"testing", "qa"},
	"api":      {"api", "network"},
	"http":     {"api", "network"},
	"endpoint": {"api", "network"},
	"database": {"database", "data"},
	"sql":      {"database", "data"},
	"table":    {"database", "data"},
	"shell":    {"shell", "execution"},
	"run":      {"shell", "execution"},
	"execute":  {"shell", "execution"},
	"bash":     {"shell", "execution"},
}

// CategoryOf resolves a tool record's category, e.g. from one of its
// keywords; callers configure this however their skill records encode
// category (the routing core has no dedicated Category field, so a
// discovery service is typically wired with a function reading a
// convention like the first matching keyword).
type CategoryOf func(*routing.ToolRecord) string

// SkillDiscoveryService answers natural-language discovery queries by
// preferring a wired hybrid Searcher, falling back to a keyword+category
// scorer over the ToolRegistry when no searcher is configured or it
// returns nothing.
type SkillDiscoveryService struct {
	registry   *ToolRegistry
	searcher   Searcher // optional
	categoryOf CategoryOf
}

// NewSkillDiscoveryService creates a discovery service. searcher and
// categoryOf may both be nil, in which case fallback matching degrades to
// name/description substring scoring with no category boost.
func NewSkillDiscoveryService(registry *ToolRegistry, searcher Searcher, categoryOf CategoryOf) *SkillDiscoveryService {
	if categoryOf == nil {
		categoryOf = func(*routing.ToolRecord) string { return "" }
	}
	return &SkillDiscoveryService{registry: registry, searcher: searcher, categoryOf: categoryOf}
}

// Search finds tools matching query, preferring the wired hybrid searcher
// and falling back to keyword/category scoring over the registry when the
// searcher is unavailable or returns no hits above threshold.
func (s *SkillDiscoveryService) Search(ctx context.Context, query string, limit int, threshold float64) ([]ToolMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	if s.searcher != nil {
		results, err := s.searcher.Search(ctx, query, limit*2)
		if err == nil {
			matches := s.toMatches(ctx, results, query, threshold)
			if len(matches) > 0 {
				if len(matches) > limit {
					matches = matches[:limit]
				}
				return matches, nil
			}
		}
	}

	fallback, err := s.searchFallback(ctx, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	if len(fallback) == 0 {
		return []ToolMatch{{
			CommandID:     discoverFallbackID,
			SkillName:     "skill",
			Description:   "Discover available skills and tools",
			Score:         0.05,
			MatchedIntent: query,
			UsageTemplate: discoverFallbackID + "()",
		}}, nil
	}
	return fallback, nil
}

func (s *SkillDiscoveryService) toMatches(ctx context.Context, results []*routing.RoutingSearchResult, query string, threshold float64) []ToolMatch {
	matches := make([]ToolMatch, 0, len(results))
	for _, r := range results {
		if r.Score < threshold {
			continue
		}
		skillName := r.Metadata["skill_name"]
		matches = append(matches, ToolMatch{
			CommandID:     r.ID,
			SkillName:     skillName,
			Description:   r.Content,
			Score:         r.Score,
			MatchedIntent: query,
			UsageTemplate: usageTemplate(r.ID),
		})
	}
	return matches
}

func (s *SkillDiscoveryService) detectIntentKeywords(queryWords map[string]bool) []string {
	for word, categories := range categoryBoosts {
		if queryWords[word] {
			return categories
		}
	}
	return nil
}

func (s *SkillDiscoveryService) searchFallback(ctx context.Context, query string, limit int, threshold float64) ([]ToolMatch, error) {
	records, err := s.registry.All(ctx)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	queryWords := make(map[string]bool)
	for _, w := range strings.Fields(queryLower) {
		queryWords[w] = true
	}
	boostCategories := s.detectIntentKeywords(queryWords)

	type scored struct {
		match ToolMatch
		score float64
	}
	var candidates []scored

	for _, rec := range records {
		category := s.categoryOf(rec)
		for _, cmd := range rec.Commands {
			id := routing.CommandID(rec.SkillName, cmd.Name)
			score := fallbackScore(id, cmd.Description, category, queryLower, queryWords, boostCategories)
			if score >= threshold {
				candidates = append(candidates, scored{
					match: ToolMatch{
						CommandID:     id,
						SkillName:     rec.SkillName,
						Description:   cmd.Description,
						Score:         score,
						MatchedIntent: query,
						UsageTemplate: usageTemplate(id),
					},
					score: score,
				})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]ToolMatch, len(candidates))
	for i, c := range candidates {
		out[i] = c.match
	}
	return out, nil
}

func fallbackScore(id, description, category, queryLower string, queryWords map[string]bool, boostCategories []string) float64 {
	var score float64
	idLower := strings.ToLower(id)
	collapsedQuery := strings.ReplaceAll(queryLower, " ", "")

	if strings.Contains(idLower, strings.ReplaceAll(queryLower, " ", "_")) {
		score = max(score, 0.95)
	} else if strings.Contains(strings.NewReplacer("_", "", ".", "").Replace(idLower), collapsedQuery) {
		score = max(score, 0.85)
	}

	for _, boost := range boostCategories {
		if category == boost {
			score = max(score, 0.8)
			break
		}
	}

	for word := range queryWords {
		if len(word) > 3 && strings.Contains(idLower, word) {
			score = max(score, 0.7)
		}
	}

	if description != "" && strings.Contains(strings.ToLower(description), queryLower) {
		score = max(score, 0.6)
	}

	return score
}

// usageTemplate generates a minimal invocation hint for a command id.
// Unlike the original JSON-schema-driven template builder, the routing
// core's ToolCommand carries no argument schema, so this only emits the
// bare call form.
func usageTemplate(commandID string) string {
	return commandID + "(...)"
}
