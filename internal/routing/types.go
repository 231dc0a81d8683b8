// Package routing provides the data model shared by the hybrid retrieval
// and skill-routing core: tool records, route decisions, and the routable-id
// contract enforced across the cache, indexer, and router layers.
package routing

import (
	"regexp"
	"time"
)

// routableIDPattern matches the id grammar every routable entity (tool name,
// command id, chunk stand-in) must satisfy: ASCII letters, digits, underscore,
// dot, and hyphen, 1-160 characters. UUIDs and bare 32-hex hashes are valid
// strings but are rejected elsewhere (see linkgraph.IsNoteStem) because they
// carry no human-routable meaning, not because they violate this grammar.
var routableIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,160}$`)

// IsRoutableID reports whether id satisfies the routable-id contract.
func IsRoutableID(id string) bool {
	return routableIDPattern.MatchString(id)
}

// ToolCommand describes one invocable command exposed by a skill.
type ToolCommand struct {
	Name        string   // command name, unique within its skill
	Description string   // human-readable summary
	Keywords    []string // routing keywords used for fallback/keyword matching
}

// ToolRecord is a skill.command entry as seen by the routing/retrieval core.
// It is the routing analogue of store.Chunk: a retrievable, indexable unit.
type ToolRecord struct {
	SkillName   string
	Description string
	Commands    []ToolCommand
	Intents     []string // inherited by every command, used for routing hints
	Keywords    []string // skill-level routing keywords
}

// ID returns the skill-level routable id.
func (t *ToolRecord) ID() string {
	return t.SkillName
}

// CommandID returns the fully-qualified "skill.command" id.
func CommandID(skillName, commandName string) string {
	if commandName == "" {
		return skillName
	}
	return skillName + "." + commandName
}

// Confidence is a routing decision's reliability tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFromScore buckets a 0-1 score per the router's fixed thresholds.
func ConfidenceFromScore(score float64) Confidence {
	switch {
	case score >= 0.75:
		return ConfidenceHigh
	case score >= 0.50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// RouteResult is the outcome of routing a natural-language query to a
// skill.command tool. A nil *RouteResult from a router means "escalate to
// the LLM planner", not an error.
type RouteResult struct {
	SkillName    string
	CommandName  string
	Score        float64
	Confidence   Confidence
	ExplicitHint bool // true if matched via the ^skill.command$ explicit pattern
}

// CommandID returns the fully-qualified "skill.command" id for this result.
func (r *RouteResult) CommandID() string {
	return CommandID(r.SkillName, r.CommandName)
}

// ScoredResult is a generic (id, score) pair used by search layers before
// they are enriched into a domain-specific result type.
type ScoredResult struct {
	ID    string
	Score float64
}

// BoostEntry records one multiplicative adjustment a hybridsearch rerank
// stage applied to a result's score, in application order, so a caller can
// explain why a result ended up where it did without re-running the pipeline.
type BoostEntry struct {
	Kind       string // "attribute" | "intent" | "schema_weight" | "research_over_url" | "proximity"
	Multiplier float64
}

// RoutingSearchResult is a hybrid-search hit carrying the per-signal score
// breakdown needed for explainability and downstream boost application.
type RoutingSearchResult struct {
	ID          string
	Content     string
	Score       float64
	BM25Score   float64
	VecScore    float64
	InBothLists bool
	Source      string            // stem-bearing origin path, used by proximity boosting
	Metadata    map[string]string // type, skill_name, command, weight, etc.
	Boosts      []BoostEntry      // rerank stages applied, in order
	FinalScore  float64           // recalibrated confidence (absolute+relative tiers), set by Recalibrate
}

// CacheEntry is one stored value plus its insertion/expiry bookkeeping, used
// by routing/cache's LRU+TTL map.
type CacheEntry struct {
	Results   []*RoutingSearchResult
	StoredAt  time.Time
	ExpiresAt time.Time
}
