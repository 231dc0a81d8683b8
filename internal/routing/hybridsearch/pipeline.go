package hybridsearch

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanmcp/internal/routing"
	"github.com/Aman-CERP/amanmcp/internal/search"
)

// QueryIntent is the result of decomposing and classifying a query before
// it is run against the native store: the text to actually search, any
// parameter-like hints pulled out of it (currently URLs), and the coarse
// intent category the rest of the pipeline shapes its behavior around.
type QueryIntent struct {
	Text       string
	ParamHints []string
	Category   string // "exact" | "semantic" | "hybrid" | "category" | "research"
	HasURL     bool
	URLs       []string
}

var (
	urlPattern            = regexp.MustCompile(`https?://\S+`)
	researchWordsPattern  = regexp.MustCompile(`(?i)\b(research|analyz\w*|investigat\w*|compare|evaluat\w*|why)\b`)
	categoryFilterPattern = regexp.MustCompile(`(?i)^(type|kind|category):(\S+)\s*(.*)$`)
)

// DecomposeIntent splits query into the text to search and any URL-shaped
// parameter hints it contains, mirroring the teacher's
// PatternDecomposer/QueryExpander split between "what to search" and
// "structural hints about the query" (internal/search/decomposer.go,
// internal/search/expander.go), adapted here to pull URLs out instead of
// code-identifier synonyms.
func DecomposeIntent(query string) (string, []string) {
	query = strings.TrimSpace(query)
	urls := urlPattern.FindAllString(query, -1)
	if len(urls) == 0 {
		return query, nil
	}
	text := strings.TrimSpace(urlPattern.ReplaceAllString(query, ""))
	if text == "" {
		text = query
	}
	return text, urls
}

// ClassifyIntent decomposes query and assigns it a coarse routing category,
// layering two rules on top of the teacher's PatternClassifier
// (internal/search/patterns.go): an explicit "type:"/"kind:"/"category:"
// prefix always wins (category_filter), and research/analysis verbs
// (research, analyze, compare, ...) mark the query "research" so a
// raw URL in the same query doesn't outrank read-the-literature content
// (spec scenario: research-over-URL preference).
func ClassifyIntent(query string) QueryIntent {
	text, urls := DecomposeIntent(query)
	intent := QueryIntent{Text: text, ParamHints: append([]string(nil), urls...), HasURL: len(urls) > 0, URLs: urls}

	if m := categoryFilterPattern.FindStringSubmatch(strings.TrimSpace(query)); m != nil {
		intent.Category = "category"
		intent.ParamHints = append(intent.ParamHints, strings.ToLower(m[2]))
		if rest := strings.TrimSpace(m[3]); rest != "" {
			intent.Text = rest
		}
		return intent
	}

	if researchWordsPattern.MatchString(text) {
		intent.Category = "research"
		return intent
	}

	qt, _, _ := search.NewPatternClassifier().Classify(context.Background(), text)
	switch qt {
	case search.QueryTypeLexical:
		intent.Category = "exact"
	case search.QueryTypeSemantic:
		intent.Category = "semantic"
	default:
		intent.Category = "hybrid"
	}
	return intent
}

// weightsForIntent derives fusion weights from the query's classified
// intent, generalizing the teacher's WeightsForQueryType (internal/search/
// types.go) with two routing-specific categories: "exact" leans hard on
// BM25 (a "type:" filter or identifier-shaped query wants literal matches),
// "research" leans hard on semantic (broad literature/analysis queries
// benefit from meaning over keyword overlap).
func weightsForIntent(intent QueryIntent) search.Weights {
	switch intent.Category {
	case "exact":
		return search.Weights{BM25: 0.8, Semantic: 0.2}
	case "research":
		return search.Weights{BM25: 0.2, Semantic: 0.8}
	case "category":
		return search.Weights{BM25: 0.5, Semantic: 0.5}
	default:
		return search.DefaultWeights()
	}
}

// candidateMultiplierForIntent widens the candidate pool fetched from each
// signal before fusion when the query carries a URL: URL-bearing queries
// tend to have a narrow literal match (the URL itself) competing against a
// broader semantic field, and a larger pool gives the later research-over-
// URL boost stage something to actually rerank.
func candidateMultiplierForIntent(intent QueryIntent) int {
	if intent.HasURL {
		return 3
	}
	return 2
}

const (
	attributeBoostMultiplier  = 1.15
	intentBoostMultiplier     = 1.10
	researchOverURLPenalty    = 0.55
	schemaWeightBoostBaseRate = 0.05
)

func resortByScore(results []*routing.RoutingSearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func recordBoost(r *routing.RoutingSearchResult, kind string, multiplier float64) {
	r.Score *= multiplier
	r.Boosts = append(r.Boosts, routing.BoostEntry{Kind: kind, Multiplier: multiplier})
}

// ApplyAttributeBoost rewards hits whose content literally contains one of
// the query's parameter hints (e.g. a URL also named in the document),
// following the teacher's small-pure-rerank-function idiom
// (ApplyTestFilePenalty/ApplyPathBoost in internal/search/options.go):
// adjust scores, then re-sort.
func ApplyAttributeBoost(results []*routing.RoutingSearchResult, intent QueryIntent) []*routing.RoutingSearchResult {
	if len(results) == 0 || len(intent.ParamHints) == 0 {
		return results
	}
	for _, r := range results {
		lowered := strings.ToLower(r.Content)
		for _, hint := range intent.ParamHints {
			if hint == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(hint)) {
				recordBoost(r, "attribute", attributeBoostMultiplier)
				break
			}
		}
	}
	resortByScore(results)
	return results
}

// ApplyIntentBoost rewards hits that look like they match the query's
// classified category: a "category"-classified query (an explicit
// "type:"/"kind:" filter) favors COMMAND entries (concrete, invocable
// matches) over bare skill descriptions, since a filtered query is
// usually looking for a specific action rather than an overview.
func ApplyIntentBoost(results []*routing.RoutingSearchResult, intent QueryIntent) []*routing.RoutingSearchResult {
	if len(results) == 0 || intent.Category != "category" {
		return results
	}
	for _, r := range results {
		if strings.HasPrefix(r.Content, "COMMAND:") {
			recordBoost(r, "intent", intentBoostMultiplier)
		}
	}
	resortByScore(results)
	return results
}

// ApplySchemaWeightBoost folds a document's declared schema weight (the
// "weight" field toolindex attaches to command vs. skill entries, commands
// weighted higher than skills) into its score as a small multiplicative
// nudge, so two otherwise-tied hits break in favor of the more specific one.
func ApplySchemaWeightBoost(results []*routing.RoutingSearchResult) []*routing.RoutingSearchResult {
	if len(results) == 0 {
		return results
	}
	for _, r := range results {
		weightStr := r.Metadata["weight"]
		if weightStr == "" {
			continue
		}
		w, err := strconv.ParseFloat(weightStr, 64)
		if err != nil || w <= 1 {
			continue
		}
		recordBoost(r, "schema_weight", 1+(w-1)*schemaWeightBoostBaseRate)
	}
	resortByScore(results)
	return results
}

// ApplyResearchOverURLBoost implements the research-over-URL preference:
// when the query was classified "research" and also carried a URL, a hit
// whose content is essentially just that URL restated (no research/analysis
// language of its own) is penalized relative to hits that actually discuss
// or analyze the subject, so a literal URL match doesn't crowd out the
// content the query was actually asking about.
func ApplyResearchOverURLBoost(results []*routing.RoutingSearchResult, intent QueryIntent) []*routing.RoutingSearchResult {
	if len(results) == 0 || intent.Category != "research" || !intent.HasURL {
		return results
	}
	for _, r := range results {
		lowered := strings.ToLower(r.Content)
		matchesURL := false
		for _, u := range intent.URLs {
			if strings.Contains(lowered, strings.ToLower(u)) {
				matchesURL = true
				break
			}
		}
		if matchesURL && !researchWordsPattern.MatchString(lowered) {
			recordBoost(r, "research_over_url", researchOverURLPenalty)
		}
	}
	resortByScore(results)
	return results
}

// Recalibrate sets each result's FinalScore from the minimum of its
// absolute confidence (the raw fused/boosted score, clamped to [0,1]) and
// its relative confidence (how it stacks up against the rest of the result
// set), then promotes a clear winner: if the top result's relative margin
// over the runner-up is wide, its FinalScore is floored at 0.8 regardless
// of the absolute tier, so one dominant hit isn't held down by generally
// low scores across the board (e.g. an exact skill.command match among
// otherwise weak candidates). Matches the HIGH/MEDIUM/LOW confidence
// vocabulary already used by router.confidenceFromScore.
func Recalibrate(results []*routing.RoutingSearchResult) {
	if len(results) == 0 {
		return
	}
	top := results[0].Score

	for i, r := range results {
		absolute := clampUnit(r.Score)

		var relative float64
		switch {
		case len(results) == 1:
			relative = 1.0
		case i == 0:
			denom := math.Max(top, 1e-9)
			relative = clampUnit((top - results[1].Score) / denom)
		default:
			relative = clampUnit(r.Score / math.Max(top, 1e-9))
		}

		final := math.Min(absolute, relative)
		// A wide margin carries its own signal beyond either single tier:
		// promote without letting it exceed the absolute score itself.
		if i == 0 && relative >= 0.4 {
			final = math.Max(final, math.Min(0.8, math.Max(absolute, 0.8)))
		}
		r.FinalScore = clampUnit(final)
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
