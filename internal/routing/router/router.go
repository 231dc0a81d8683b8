// Package router maps natural-language queries to skill.command tool
// invocations: an explicit "skill.command" pattern match, a semantic search
// over indexed tool descriptions, and a keyword-overlap fallback, combined
// by OmniRouter into a single best decision (or nil, meaning escalate to the
// LLM planner).
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

// Confidence thresholds, mirrored from the semantic router's tuned defaults.
const (
	HighThreshold   = 0.75
	MediumThreshold = 0.50
)

// Searcher is the minimal contract OmniRouter needs from the hybrid search
// layer: ranked (id, score, metadata) hits for a natural-language query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error)
}

// KeywordIndex resolves a skill's routing keywords and known commands, used
// for the keyword-overlap fallback tier when semantic search misses.
type KeywordIndex interface {
	// SkillsForKeyword returns skill names whose routing keywords include kw.
	SkillsForKeyword(kw string) []string
	// CommandsForSkill returns the skill's known "skill.command" ids.
	CommandsForSkill(skillName string) []string
}

// confidenceFromScore buckets using the router's own thresholds (distinct
// from routing.ConfidenceFromScore's slightly different generic cutoffs,
// matching the original router's HIGH/MEDIUM/LOW split at 0.75/0.50).
func confidenceFromScore(score float64) routing.Confidence {
	switch {
	case score >= HighThreshold:
		return routing.ConfidenceHigh
	case score >= MediumThreshold:
		return routing.ConfidenceMedium
	default:
		return routing.ConfidenceLow
	}
}

// SemanticRouter matches a query to a skill.command by searching indexed
// tool descriptions and validating the top hit's metadata.
type SemanticRouter struct {
	searcher Searcher
}

// NewSemanticRouter creates a router backed by searcher.
func NewSemanticRouter(searcher Searcher) *SemanticRouter {
	return &SemanticRouter{searcher: searcher}
}

// Route returns the top matching command if its score clears threshold and
// its metadata identifies a command entry, or nil otherwise.
func (r *SemanticRouter) Route(ctx context.Context, query string, threshold float64, limit int) (*routing.RouteResult, error) {
	if limit <= 0 {
		limit = 3
	}
	results, err := r.searcher.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	top := results[0]
	if top.Score < threshold {
		slog.Debug("semantic router: below threshold", slog.String("query", query), slog.Float64("score", top.Score))
		return nil, nil
	}
	if top.Metadata["type"] != "command" {
		return nil, nil
	}

	skillName := top.Metadata["skill_name"]
	if skillName == "" {
		skillName = "unknown"
	}
	commandName := top.Metadata["command"]

	result := &routing.RouteResult{
		SkillName:   skillName,
		CommandName: commandName,
		Score:       top.Score,
		Confidence:  confidenceFromScore(top.Score),
	}
	slog.Info("semantic route", slog.String("query", query), slog.String("command", result.CommandID()),
		slog.Float64("score", top.Score), slog.String("confidence", string(result.Confidence)))
	return result, nil
}

// explicitCommandPattern matches "skill.command" style queries exactly.
var explicitCommandPattern = regexp.MustCompile(`^(\w+)\.(\w+)$`)

// FallbackRouter matches an explicit "skill.command" token, bypassing search
// entirely: the highest-confidence, lowest-latency routing path.
type FallbackRouter struct{}

// NewFallbackRouter creates a stateless explicit-pattern router.
func NewFallbackRouter() *FallbackRouter { return &FallbackRouter{} }

// Route returns an exact-match result if query is literally "skill.command".
func (r *FallbackRouter) Route(query string) *routing.RouteResult {
	match := explicitCommandPattern.FindStringSubmatch(strings.TrimSpace(query))
	if match == nil {
		return nil
	}
	return &routing.RouteResult{
		SkillName:    match[1],
		CommandName:  match[2],
		Score:        1.0,
		Confidence:   routing.ConfidenceHigh,
		ExplicitHint: true,
	}
}

// stopwords are common verbs/articles excluded from keyword-candidate
// extraction so they never drive a spurious keyword match.
var stopwords = map[string]bool{
	"check": true, "get": true, "show": true, "run": true,
	"execute": true, "do": true, "a": true, "the": true,
}

// OmniRouter combines the explicit, semantic, and keyword-overlap tiers into
// one routing decision, preferring higher-confidence and higher-priority
// signals. A nil result means: escalate the query to the LLM planner.
type OmniRouter struct {
	semantic *SemanticRouter
	fallback *FallbackRouter
	keywords KeywordIndex
}

// NewOmniRouter creates the combined router. keywords may be nil, disabling
// the keyword-overlap tier.
func NewOmniRouter(semantic *SemanticRouter, fallback *FallbackRouter, keywords KeywordIndex) *OmniRouter {
	return &OmniRouter{semantic: semantic, fallback: fallback, keywords: keywords}
}

// Route tries the explicit pattern first (bypassing search when it matches
// outright), then blends semantic and keyword-overlap candidates, returning
// the single best-scoring one.
func (r *OmniRouter) Route(ctx context.Context, query string, threshold float64) (*routing.RouteResult, error) {
	var semanticResult *routing.RouteResult
	if r.semantic != nil {
		var err error
		semanticResult, err = r.semantic.Route(ctx, query, threshold, 3)
		if err != nil {
			slog.Debug("omni router: semantic tier failed", slog.String("error", err.Error()))
		}
	}

	var explicitResult *routing.RouteResult
	if r.fallback != nil && (semanticResult == nil || semanticResult.Confidence != routing.ConfidenceHigh) {
		explicitResult = r.fallback.Route(query)
	}

	candidates := make(map[string]float64)
	if semanticResult != nil {
		candidates[semanticResult.CommandID()] = semanticResult.Score
	}
	if explicitResult != nil {
		id := explicitResult.CommandID()
		if explicitResult.Score > candidates[id] {
			candidates[id] = explicitResult.Score
		}
	}

	// skillMatches tracks keyword-matched skills for logging only: a
	// skill-level hit with no resolvable command is not a routable decision
	// (command_name must be non-empty, see matchKeywords/bestEntry above),
	// so it is never promoted to a RouteResult.
	skillMatches := make(map[string]float64)
	if r.keywords != nil {
		r.matchKeywords(query, candidates, skillMatches)
	}

	if len(candidates) == 0 {
		if len(skillMatches) > 0 {
			slog.Debug("omni router: skill-level keyword match dropped, no command resolved",
				slog.String("query", query))
		}
		return nil, nil
	}

	bestCmd, bestScore := bestEntry(candidates)
	skillName, commandName := splitCommandID(bestCmd)
	return &routing.RouteResult{
		SkillName:   skillName,
		CommandName: commandName,
		Score:       bestScore,
		Confidence:  confidenceFromScore(bestScore),
	}, nil
}

// matchKeywords scans the skill keyword index for any keyword appearing in
// query, crediting matching "skill.command" candidates (0.5 for any command,
// 0.7 if the command name also appears as a distinct query word) and the
// skill itself (0.6, used when no specific command can be identified).
func (r *OmniRouter) matchKeywords(query string, candidates, skillMatches map[string]float64) {
	queryLower := strings.ToLower(query)
	potentialCommands := extractPotentialCommandWords(queryLower)

	seenSkills := make(map[string]bool)
	for _, skillName := range r.keywordMatchedSkills(queryLower) {
		if seenSkills[skillName] {
			continue
		}
		seenSkills[skillName] = true

		commands := r.keywords.CommandsForSkill(skillName)
		if len(commands) == 0 {
			continue
		}
		for _, cmdID := range commands {
			score := 0.5
			_, cmdName := splitCommandID(cmdID)
			if potentialCommands[strings.ToLower(cmdName)] {
				score = 0.7
			}
			if score > candidates[cmdID] {
				candidates[cmdID] = score
			}
		}
		if score := skillMatches[skillName]; score < 0.6 {
			skillMatches[skillName] = 0.6
		}
	}
}

func (r *OmniRouter) keywordMatchedSkills(queryLower string) []string {
	var skills []string
	seen := make(map[string]bool)
	for _, word := range strings.Fields(queryLower) {
		for _, skillName := range r.keywords.SkillsForKeyword(word) {
			if !seen[skillName] {
				seen[skillName] = true
				skills = append(skills, skillName)
			}
		}
	}
	return skills
}

func extractPotentialCommandWords(queryLower string) map[string]bool {
	out := make(map[string]bool)
	for _, word := range strings.Fields(queryLower) {
		if stopwords[word] || len(word) <= 2 {
			continue
		}
		out[word] = true
	}
	return out
}

func bestEntry(m map[string]float64) (string, float64) {
	var bestKey string
	bestScore := -1.0
	for k, v := range m {
		if v > bestScore || (v == bestScore && k < bestKey) {
			bestKey, bestScore = k, v
		}
	}
	return bestKey, bestScore
}

func splitCommandID(id string) (skill, command string) {
	idx := strings.Index(id, ".")
	if idx < 0 {
		return id, ""
	}
	return id[:idx], id[idx+1:]
}
