package linkgraph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// RetrievalMode selects how a query is satisfied: purely from the graph,
// purely from the vector/BM25 path, or graph-first with a vector fallback.
type RetrievalMode string

const (
	ModeGraphOnly  RetrievalMode = "graph_only"
	ModeHybrid     RetrievalMode = "hybrid"
	ModeVectorOnly RetrievalMode = "vector_only"
)

// ConfidenceLevel buckets a graph confidence score into a coarse label.
type ConfidenceLevel string

const (
	ConfidenceNone   ConfidenceLevel = "none"
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// PolicyConfig holds the thresholds and limits the planner applies.
type PolicyConfig struct {
	Mode                RetrievalMode
	CandidateMultiplier int
	MaxSources          int
	MinGraphHits        int
	MinGraphScore       float64
	GraphRowsPerSource  int

	// CacheTTL is how long a plan is cached for (query, config) pairs.
	// Zero disables caching.
	CacheTTL time.Duration

	// BaseSearchTimeout is scaled per query-timeout-bucket, then clamped to
	// [0.02s, 30s].
	BaseSearchTimeout time.Duration

	// TimeoutMarkerTTL bounds how long a "this query just timed out" marker
	// survives for same-query fallback coordination.
	TimeoutMarkerTTL time.Duration
}

// DefaultPolicyConfig returns the default thresholds.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Mode:                ModeHybrid,
		CandidateMultiplier: 4,
		MaxSources:          8,
		MinGraphHits:        2,
		MinGraphScore:       0.25,
		GraphRowsPerSource:  8,
		CacheTTL:            30 * time.Second,
		BaseSearchTimeout:   800 * time.Millisecond,
		TimeoutMarkerTTL:    20 * time.Second,
	}
}

// SourceHint is a graph-derived candidate filter for narrowing downstream
// native-store lookups.
type SourceHint struct {
	SourceFilter string
	Stem         string
	GraphScore   float64
}

// RetrievalBudget bounds the downstream work a selected mode is allowed.
type RetrievalBudget struct {
	CandidateLimit int
	MaxSources     int
	RowsPerSource  int
}

// RetrievalPlan is the planner's decision for one query.
type RetrievalPlan struct {
	RequestedMode        RetrievalMode
	SelectedMode         RetrievalMode
	Reason               string
	BackendName          string
	GraphHits            []Hit
	SourceHints          []SourceHint
	GraphConfidenceScore float64
	GraphConfidenceLevel ConfidenceLevel
	Budget               RetrievalBudget
}

var (
	slugLikeQueryRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	wordRE          = regexp.MustCompile(`[a-zA-Z0-9]+`)
)

// queryTimeoutBucket classifies a query string into a timeout-scaling
// bucket: empty, machine_like, short, long_natural, symbol_heavy, normal.
func queryTimeoutBucket(query string) string {
	text := strings.TrimSpace(query)
	if text == "" {
		return "empty"
	}
	lowered := strings.ToLower(text)
	words := wordRE.FindAllString(lowered, -1)

	digitCount := 0
	punctCount := 0
	for _, r := range lowered {
		switch {
		case r >= '0' && r <= '9':
			digitCount++
		case !isAlnumRune(r) && !isSpaceRune(r):
			punctCount++
		}
	}

	if slugLikeQueryRE.MatchString(lowered) {
		segments := splitNonEmpty(lowered, "_-")
		if digitCount > 0 || len(segments) >= 4 || len(lowered) >= 24 {
			return "machine_like"
		}
	}

	if len(words) > 0 && len(words) <= 2 && len(lowered) <= 16 {
		return "short"
	}

	if len(lowered) >= 80 || len(words) >= 10 {
		return "long_natural"
	}

	if punctCount > maxInt(3, len(lowered)/4) {
		return "symbol_heavy"
	}

	return "normal"
}

// timeoutScaleForBucket maps a bucket to the multiplier applied to
// PolicyConfig.BaseSearchTimeout.
func timeoutScaleForBucket(bucket string) float64 {
	switch bucket {
	case "empty":
		return 0.2
	case "machine_like":
		return 0.5
	case "short":
		return 0.6
	case "symbol_heavy":
		return 0.8
	case "long_natural":
		return 1.5
	default:
		return 1.0
	}
}

func isAlnumRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func splitNonEmpty(s, cutset string) []string {
	var out []string
	var cur strings.Builder
	isCut := func(r rune) bool { return strings.ContainsRune(cutset, r) }
	for _, r := range s {
		if isCut(r) {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// searchTimeout resolves the effective per-query graph search timeout,
// clamped to [20ms, 30s], and the bucket used to derive it.
func searchTimeout(cfg PolicyConfig, query string) (time.Duration, string) {
	bucket := queryTimeoutBucket(query)
	scale := timeoutScaleForBucket(bucket)
	timeout := time.Duration(float64(cfg.BaseSearchTimeout) * scale)
	if timeout < 20*time.Millisecond {
		timeout = 20 * time.Millisecond
	}
	if timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return timeout, bucket
}

// looksPathLikeQuery reports whether query resembles a file path, which
// steers the planner toward a path_fuzzy match strategy.
func looksPathLikeQuery(query string) bool {
	lowered := strings.ToLower(strings.TrimSpace(query))
	if lowered == "" {
		return false
	}
	if strings.Contains(lowered, "/") || strings.Contains(lowered, "\\") {
		return true
	}
	return strings.HasSuffix(lowered, ".md") || strings.HasSuffix(lowered, ".mdx") || strings.HasSuffix(lowered, ".markdown")
}

// searchOptionsForBucket picks the match strategy for a classified query.
func searchOptionsForBucket(bucket, query string) SearchOptions {
	if looksPathLikeQuery(query) {
		return SearchOptions{MatchStrategy: "path_fuzzy"}
	}
	if bucket == "machine_like" {
		return SearchOptions{MatchStrategy: "exact"}
	}
	return SearchOptions{MatchStrategy: "fts"}
}

// confidenceLevelFromScore buckets a 0-1 confidence score.
func confidenceLevelFromScore(score float64) ConfidenceLevel {
	bounded := clamp01(score)
	switch {
	case bounded <= 0:
		return ConfidenceNone
	case bounded < 0.35:
		return ConfidenceLow
	case bounded < 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// computeGraphConfidence implements the weighted confidence formula:
// 0.45*count_score + 0.35*top_score + 0.20*threshold_score.
func computeGraphConfidence(hits []Hit, minHits int, minTopScore float64) (float64, ConfidenceLevel) {
	if len(hits) == 0 {
		return 0.0, ConfidenceNone
	}
	if minHits < 1 {
		minHits = 1
	}

	countScore := float64(len(hits)) / float64(minHits)
	if countScore > 1 {
		countScore = 1
	}

	topScore := 0.0
	for _, h := range hits {
		if h.Score > topScore {
			topScore = h.Score
		}
	}
	topScore = clamp01(topScore)

	thresholdScore := topScore
	if minTopScore > 0 {
		thresholdScore = topScore / minTopScore
		if thresholdScore > 1 {
			thresholdScore = 1
		}
	}

	confidence := clamp01(0.45*countScore + 0.35*topScore + 0.2*thresholdScore)
	return confidence, confidenceLevelFromScore(confidence)
}

// buildSourceHints derives downstream source filters from graph hits,
// preferring a hit's basename, then its full path, then its bare stem, and
// stopping once maxSources distinct (filter, stem) pairs are collected.
func buildSourceHints(hits []Hit, maxSources int) []SourceHint {
	var hints []SourceHint
	seen := make(map[[2]string]bool)

	for _, hit := range hits {
		stem := strings.TrimSpace(hit.Stem)
		if stem == "" {
			continue
		}
		score := clampMin0(hit.Score)
		path := strings.TrimSpace(hit.Path)

		var candidates []string
		if path != "" {
			if base := lastPathSegment(path); base != "" {
				candidates = append(candidates, base)
			}
			if !containsStr(candidates, path) {
				candidates = append(candidates, path)
			}
		}
		if !containsStr(candidates, stem) {
			candidates = append(candidates, stem)
		}

		for _, filter := range candidates {
			key := [2]string{filter, stem}
			if seen[key] {
				continue
			}
			seen[key] = true
			hints = append(hints, SourceHint{SourceFilter: filter, Stem: stem, GraphScore: score})
			if len(hints) >= maxSources {
				return hints
			}
		}
	}
	return hints
}

func lastPathSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func containsStr(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func clampMin0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// graphIsSufficient reports whether graph_only results alone satisfy the
// hybrid mode's bar for skipping the vector fallback entirely.
func graphIsSufficient(hits []Hit, minHits int, minTopScore float64) bool {
	if len(hits) == 0 || len(hits) < minHits {
		return false
	}
	top := 0.0
	for _, h := range hits {
		if h.Score > top {
			top = h.Score
		}
	}
	return top >= minTopScore
}

type planCacheKey struct {
	backendName  string
	mode         RetrievalMode
	limit        int
	multiplier   int
	minHits      int
	minScore     float64
	maxSources   int
	rowsPerSrc   int
	normQuery    string
}

type planCacheEntry struct {
	plan      RetrievalPlan
	expiresAt time.Time
}

// Planner decides, per query, whether to serve retrieval from the link
// graph alone, fall back to vector/BM25, or hybridize. It also tracks
// recent graph-search timeouts so a same-query proximity boost pass can
// skip redundant backend calls (consumed exactly once, see
// TakeRecentTimeout).
type Planner struct {
	config  PolicyConfig
	backend Backend

	mu        sync.Mutex
	planCache map[planCacheKey]planCacheEntry

	timeoutMu      sync.Mutex
	recentTimeouts map[string]time.Time
}

// NewPlanner creates a planner bound to backend using cfg's thresholds.
func NewPlanner(backend Backend, cfg PolicyConfig) *Planner {
	return &Planner{
		config:         cfg,
		backend:        backend,
		planCache:      make(map[planCacheKey]planCacheEntry),
		recentTimeouts: make(map[string]time.Time),
	}
}

// NoteTimeout records that query's graph search just timed out, so a later
// proximity-boost call for the same query can skip its own backend round
// trip. The marker is consumed exactly once by TakeRecentTimeout.
func (p *Planner) NoteTimeout(query string) {
	key := normalizeTimeoutQuery(query)
	if key == "" || p.config.TimeoutMarkerTTL <= 0 {
		return
	}
	p.timeoutMu.Lock()
	defer p.timeoutMu.Unlock()
	now := time.Now()
	for k, expires := range p.recentTimeouts {
		if now.After(expires) {
			delete(p.recentTimeouts, k)
		}
	}
	p.recentTimeouts[key] = now.Add(p.config.TimeoutMarkerTTL)
}

// TakeRecentTimeout consumes (removes) and reports whether query has a live
// timeout marker.
func (p *Planner) TakeRecentTimeout(query string) bool {
	key := normalizeTimeoutQuery(query)
	if key == "" {
		return false
	}
	p.timeoutMu.Lock()
	defer p.timeoutMu.Unlock()
	expires, ok := p.recentTimeouts[key]
	delete(p.recentTimeouts, key)
	if !ok {
		return false
	}
	return time.Now().Before(expires)
}

func normalizeTimeoutQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (p *Planner) cacheKey(backendName string, limit int) planCacheKey {
	cfg := p.config
	return planCacheKey{
		backendName: backendName,
		mode:        cfg.Mode,
		limit:       maxInt(1, limit),
		multiplier:  maxInt(1, cfg.CandidateMultiplier),
		minHits:     maxInt(1, cfg.MinGraphHits),
		minScore:    clampMin0(cfg.MinGraphScore),
		maxSources:  maxInt(1, cfg.MaxSources),
		rowsPerSrc:  maxInt(1, cfg.GraphRowsPerSource),
	}
}

func (p *Planner) cacheGet(key planCacheKey, query string) (RetrievalPlan, bool) {
	if p.config.CacheTTL <= 0 {
		return RetrievalPlan{}, false
	}
	key.normQuery = strings.ToLower(strings.TrimSpace(query))
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.planCache[key]
	if !ok {
		return RetrievalPlan{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(p.planCache, key)
		return RetrievalPlan{}, false
	}
	return entry.plan, true
}

func (p *Planner) cachePut(key planCacheKey, query string, plan RetrievalPlan) {
	if p.config.CacheTTL <= 0 {
		return
	}
	key.normQuery = strings.ToLower(strings.TrimSpace(query))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.planCache[key] = planCacheEntry{plan: plan, expiresAt: time.Now().Add(p.config.CacheTTL)}
}

// Plan decides whether query should be served graph_only, vector_only, or
// hybrid, running a bounded graph search against the backend as needed.
func (p *Planner) Plan(ctx context.Context, query string, limit int) RetrievalPlan {
	cfg := p.config
	requested := cfg.Mode
	candidateLimit := maxInt(1, limit) * maxInt(1, cfg.CandidateMultiplier)
	budget := RetrievalBudget{
		CandidateLimit: candidateLimit,
		MaxSources:     maxInt(1, cfg.MaxSources),
		RowsPerSource:  maxInt(1, cfg.GraphRowsPerSource),
	}

	if requested == ModeVectorOnly {
		return RetrievalPlan{
			RequestedMode: requested, SelectedMode: ModeVectorOnly,
			Reason: "vector_only_requested", BackendName: "policy",
			GraphConfidenceLevel: ConfidenceNone, Budget: budget,
		}
	}

	if p.backend == nil {
		selected := ModeVectorOnly
		if requested != ModeHybrid {
			selected = requested
		}
		return RetrievalPlan{
			RequestedMode: requested, SelectedMode: selected,
			Reason: "backend_unavailable", BackendName: "unavailable",
			GraphConfidenceLevel: ConfidenceNone, Budget: budget,
		}
	}

	backendName := p.backend.BackendName()
	key := p.cacheKey(backendName, limit)
	if cached, ok := p.cacheGet(key, query); ok {
		return cached
	}

	timeout, bucket := searchTimeout(cfg, query)
	opts := searchOptionsForBucket(bucket, query)

	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var hits []Hit
	timedOut := false
	payload, err := p.backend.SearchPlanned(searchCtx, query, candidateLimit, opts)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			selected := ModeVectorOnly
			if requested != ModeHybrid {
				selected = requested
			}
			plan := RetrievalPlan{
				RequestedMode: requested, SelectedMode: selected,
				Reason: "backend_unavailable", BackendName: backendName,
				GraphConfidenceLevel: ConfidenceNone, Budget: budget,
			}
			p.cachePut(key, query, plan)
			return plan
		}
		if searchCtx.Err() != nil {
			timedOut = true
			p.NoteTimeout(query)
		}
	} else {
		hits = payload.Hits
	}

	sourceHints := buildSourceHints(hits, maxInt(1, cfg.MaxSources))
	confScore, confLevel := computeGraphConfidence(hits, maxInt(1, cfg.MinGraphHits), clampMin0(cfg.MinGraphScore))

	if requested == ModeGraphOnly {
		reason := "graph_only_requested"
		if timedOut {
			reason = "graph_only_search_timeout"
		} else if len(hits) == 0 {
			reason = "graph_only_requested_empty"
		}
		plan := RetrievalPlan{
			RequestedMode: requested, SelectedMode: ModeGraphOnly, Reason: reason,
			BackendName: backendName, GraphHits: hits, SourceHints: sourceHints,
			GraphConfidenceScore: confScore, GraphConfidenceLevel: confLevel, Budget: budget,
		}
		p.cachePut(key, query, plan)
		return plan
	}

	if graphIsSufficient(hits, maxInt(1, cfg.MinGraphHits), clampMin0(cfg.MinGraphScore)) {
		plan := RetrievalPlan{
			RequestedMode: requested, SelectedMode: ModeGraphOnly, Reason: "graph_sufficient",
			BackendName: backendName, GraphHits: hits, SourceHints: sourceHints,
			GraphConfidenceScore: confScore, GraphConfidenceLevel: confLevel, Budget: budget,
		}
		p.cachePut(key, query, plan)
		return plan
	}

	reason := "graph_insufficient"
	if timedOut {
		reason = "graph_search_timeout"
	}
	plan := RetrievalPlan{
		RequestedMode: requested, SelectedMode: ModeVectorOnly, Reason: reason,
		BackendName: backendName, GraphHits: hits, SourceHints: sourceHints,
		GraphConfidenceScore: confScore, GraphConfidenceLevel: confLevel, Budget: budget,
	}
	p.cachePut(key, query, plan)
	return plan
}

// Validate enforces the plan schema contract (IP6): every field must be
// present and budget values must be >= 1.
func (plan RetrievalPlan) Validate() error {
	if plan.RequestedMode == "" || plan.SelectedMode == "" || plan.Reason == "" {
		return fmt.Errorf("link graph plan: missing required field")
	}
	if plan.Budget.CandidateLimit < 1 || plan.Budget.MaxSources < 1 || plan.Budget.RowsPerSource < 1 {
		return fmt.Errorf("link graph plan: budget fields must be >= 1, got %+v", plan.Budget)
	}
	return nil
}
