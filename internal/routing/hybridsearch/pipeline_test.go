package hybridsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

func TestDecomposeIntent_ExtractsURLsAndLeavesText(t *testing.T) {
	text, urls := DecomposeIntent("research https://example.com/paper and summarize it")
	assert.Equal(t, []string{"https://example.com/paper"}, urls)
	assert.Equal(t, "research  and summarize it", text)
}

func TestDecomposeIntent_NoURLReturnsQueryUnchanged(t *testing.T) {
	text, urls := DecomposeIntent("find the commit history command")
	assert.Nil(t, urls)
	assert.Equal(t, "find the commit history command", text)
}

func TestDecomposeIntent_BareURLFallsBackToOriginalQuery(t *testing.T) {
	text, urls := DecomposeIntent("https://example.com/paper")
	assert.Equal(t, []string{"https://example.com/paper"}, urls)
	assert.Equal(t, "https://example.com/paper", text)
}

func TestClassifyIntent_CategoryPrefixWins(t *testing.T) {
	intent := ClassifyIntent("type:command show git status")
	assert.Equal(t, "category", intent.Category)
	assert.Contains(t, intent.ParamHints, "command")
	assert.Equal(t, "show git status", intent.Text)
}

func TestClassifyIntent_ResearchVerbOutranksPlainClassification(t *testing.T) {
	intent := ClassifyIntent("research https://example.com/paper on hybrid search")
	assert.Equal(t, "research", intent.Category)
	assert.True(t, intent.HasURL)
	assert.Equal(t, []string{"https://example.com/paper"}, intent.URLs)
}

func TestClassifyIntent_FallsBackToPatternClassifier(t *testing.T) {
	intent := ClassifyIntent("git.status")
	assert.NotEmpty(t, intent.Category)
	assert.False(t, intent.HasURL)
}

func TestWeightsForIntent_VariesByCategory(t *testing.T) {
	exact := weightsForIntent(QueryIntent{Category: "exact"})
	assert.Greater(t, exact.BM25, exact.Semantic)

	research := weightsForIntent(QueryIntent{Category: "research"})
	assert.Greater(t, research.Semantic, research.BM25)

	category := weightsForIntent(QueryIntent{Category: "category"})
	assert.Equal(t, category.BM25, category.Semantic)
}

func TestCandidateMultiplierForIntent_WidensPoolForURLQueries(t *testing.T) {
	assert.Equal(t, 3, candidateMultiplierForIntent(QueryIntent{HasURL: true}))
	assert.Equal(t, 2, candidateMultiplierForIntent(QueryIntent{HasURL: false}))
}

func TestApplyAttributeBoost_RewardsHintMatchAndRecordsBoost(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "a", Content: "discusses https://example.com/paper at length", Score: 0.45},
		{ID: "b", Content: "unrelated content", Score: 0.5},
	}
	intent := QueryIntent{ParamHints: []string{"https://example.com/paper"}}

	out := ApplyAttributeBoost(results, intent)
	assert.Equal(t, "a", out[0].ID, "boosted hit should outrank the higher raw score")
	assert.Len(t, out[0].Boosts, 1)
	assert.Equal(t, "attribute", out[0].Boosts[0].Kind)
}

func TestApplyAttributeBoost_NoHintsIsNoOp(t *testing.T) {
	results := []*routing.RoutingSearchResult{{ID: "a", Score: 0.4}}
	out := ApplyAttributeBoost(results, QueryIntent{})
	assert.Empty(t, out[0].Boosts)
}

func TestApplyIntentBoost_RewardsCommandEntriesOnCategoryQueries(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "skill", Content: "SKILL: git", Score: 0.5},
		{ID: "cmd", Content: "COMMAND: git.status", Score: 0.48},
	}
	out := ApplyIntentBoost(results, QueryIntent{Category: "category"})
	assert.Equal(t, "cmd", out[0].ID)
	assert.Equal(t, "intent", out[0].Boosts[0].Kind)
}

func TestApplyIntentBoost_SkipsNonCategoryQueries(t *testing.T) {
	results := []*routing.RoutingSearchResult{{ID: "cmd", Content: "COMMAND: git.status", Score: 0.5}}
	out := ApplyIntentBoost(results, QueryIntent{Category: "exact"})
	assert.Empty(t, out[0].Boosts)
}

func TestApplySchemaWeightBoost_ScalesByDeclaredWeight(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "heavy", Score: 0.4, Metadata: map[string]string{"weight": "3"}},
		{ID: "light", Score: 0.41, Metadata: map[string]string{"weight": "1"}},
	}
	out := ApplySchemaWeightBoost(results)
	assert.Equal(t, "heavy", out[0].ID)
	assert.Equal(t, "schema_weight", out[0].Boosts[0].Kind)
	assert.Empty(t, out[1].Boosts)
}

func TestApplySchemaWeightBoost_IgnoresMissingOrUnitWeight(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "nometa", Score: 0.4},
		{ID: "unitweight", Score: 0.4, Metadata: map[string]string{"weight": "1"}},
	}
	out := ApplySchemaWeightBoost(results)
	assert.Empty(t, out[0].Boosts)
	assert.Empty(t, out[1].Boosts)
}

func TestApplyResearchOverURLBoost_PenalizesBareURLRestatement(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "url-only", Content: "see https://example.com/paper", Score: 0.6},
		{ID: "analysis", Content: "this paper's method compares favorably to prior work", Score: 0.55},
	}
	intent := QueryIntent{Category: "research", HasURL: true, URLs: []string{"https://example.com/paper"}}

	out := ApplyResearchOverURLBoost(results, intent)
	assert.Equal(t, "analysis", out[0].ID)
	assert.Equal(t, "research_over_url", out[1].Boosts[0].Kind)
}

func TestApplyResearchOverURLBoost_SkipsNonResearchOrNonURLQueries(t *testing.T) {
	results := []*routing.RoutingSearchResult{{ID: "a", Content: "see https://example.com/paper", Score: 0.6}}
	out := ApplyResearchOverURLBoost(results, QueryIntent{Category: "exact", HasURL: true})
	assert.Empty(t, out[0].Boosts)
}

func TestRecalibrate_SingleResultGetsFullConfidence(t *testing.T) {
	results := []*routing.RoutingSearchResult{{ID: "a", Score: 0.3}}
	Recalibrate(results)
	assert.Equal(t, 0.3, results[0].FinalScore)
}

func TestRecalibrate_ClearWinnerIsPromotedDespiteLowAbsoluteScore(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "winner", Score: 0.35},
		{ID: "runnerup", Score: 0.05},
	}
	Recalibrate(results)
	assert.GreaterOrEqual(t, results[0].FinalScore, 0.8)
}

func TestRecalibrate_CloseRaceStaysAtAbsoluteOrRelativeMinimum(t *testing.T) {
	results := []*routing.RoutingSearchResult{
		{ID: "top", Score: 0.6},
		{ID: "close", Score: 0.58},
	}
	Recalibrate(results)
	assert.Less(t, results[0].FinalScore, 0.8)
	assert.InDelta(t, 0.58, results[1].FinalScore, 1e-9)
}

func TestRecalibrate_EmptyResultsIsNoOp(t *testing.T) {
	Recalibrate(nil)
}
