// Package sniffer detects which skills are relevant to a working directory
// by evaluating three independent tiers of activation rule: static file
// triggers, declarative glob/exact-match rules, and dynamic scoring
// functions. Results are cached per directory since the underlying
// filesystem is assumed stable between sniffs.
package sniffer

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ScoreThreshold is the minimum dynamic sniffer score required to activate
// a skill.
const ScoreThreshold = 0.5

// suggestionCacheSize bounds the per-cwd suggestion cache, mirroring the
// scanner package's gitignore-matcher cache sizing rationale.
const suggestionCacheSize = 256

// ActivationRule is a static, file-presence-based activation trigger,
// typically declared once per skill at startup from its manifest.
type ActivationRule struct {
	SkillName string
	Files     map[string]bool // exact filenames that trigger activation
	Pattern   string          // optional filepath.Match glob, checked against root entries
}

func (r ActivationRule) matches(rootFiles map[string]bool) bool {
	if len(r.Files) > 0 {
		for f := range r.Files {
			if rootFiles[f] {
				return true
			}
		}
		return false
	}
	if r.Pattern != "" {
		for f := range rootFiles {
			if ok, _ := filepath.Match(r.Pattern, f); ok {
				return true
			}
		}
	}
	return false
}

// RuleType distinguishes the two declarative rule forms.
type RuleType string

const (
	RuleFileExists  RuleType = "file_exists"
	RuleFilePattern RuleType = "file_pattern"
)

// DeclarativeRule is a skill activation rule loaded from configuration
// (e.g. a skill's rules.toml equivalent) rather than hardcoded.
type DeclarativeRule struct {
	SkillName string
	Type      RuleType
	Pattern   string
}

func (r DeclarativeRule) matches(rootFiles map[string]bool) bool {
	switch r.Type {
	case RuleFileExists:
		return rootFiles[r.Pattern]
	case RuleFilePattern:
		for f := range rootFiles {
			if ok, _ := filepath.Match(r.Pattern, f); ok {
				return true
			}
		}
	}
	return false
}

// DynamicFunc is a custom detection function returning an activation score
// in [0, 1] for the given working directory.
type DynamicFunc func(cwd string) float64

// DynamicSniffer pairs a scoring function with the skill it activates.
// Failures are logged and scored 0 rather than propagated, so one broken
// sniffer never blocks the others.
type DynamicSniffer struct {
	SkillName string
	Name      string
	Priority  int
	Func      DynamicFunc
}

func (d DynamicSniffer) check(cwd string) float64 {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("sniffer panicked", slog.String("sniffer", d.Name), slog.Any("recover", r))
		}
	}()
	return d.Func(cwd)
}

// IntentSniffer evaluates static, declarative, and dynamic activation rules
// against a working directory to decide which skills are relevant.
type IntentSniffer struct {
	rules            []ActivationRule
	declarativeRules []DeclarativeRule
	dynamicSniffers  []DynamicSniffer
	scoreThreshold   float64

	cache *lru.Cache[string, []string]
}

// New creates an IntentSniffer with the default score threshold.
func New() *IntentSniffer {
	cache, _ := lru.New[string, []string](suggestionCacheSize)
	return &IntentSniffer{
		scoreThreshold: ScoreThreshold,
		cache:          cache,
	}
}

// SetScoreThreshold clamps and sets the dynamic-sniffer activation
// threshold.
func (s *IntentSniffer) SetScoreThreshold(v float64) {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	s.scoreThreshold = v
}

// RegisterRule adds a static file-based activation rule.
func (s *IntentSniffer) RegisterRule(rule ActivationRule) {
	s.rules = append(s.rules, rule)
}

// RegisterDeclarativeRules adds declarative rules for a skill, skipping and
// logging any malformed entries rather than failing the whole batch.
func (s *IntentSniffer) RegisterDeclarativeRules(skillName string, rules []DeclarativeRule) int {
	count := 0
	for _, r := range rules {
		if r.Type != RuleFileExists && r.Type != RuleFilePattern {
			slog.Warn("unknown declarative rule type", slog.String("skill", skillName), slog.String("type", string(r.Type)))
			continue
		}
		if r.Pattern == "" {
			slog.Warn("empty declarative rule pattern", slog.String("skill", skillName))
			continue
		}
		r.SkillName = skillName
		s.declarativeRules = append(s.declarativeRules, r)
		count++
	}
	return count
}

// ClearDeclarativeRules removes all declarative rules, used before a hot
// reload to avoid duplicate registration.
func (s *IntentSniffer) ClearDeclarativeRules() {
	s.declarativeRules = nil
}

// RegisterDynamic adds a dynamic scoring sniffer for a skill.
func (s *IntentSniffer) RegisterDynamic(d DynamicSniffer) {
	if d.Name == "" {
		d.Name = "unknown"
	}
	s.dynamicSniffers = append(s.dynamicSniffers, d)
}

// ClearCache drops all cached per-directory suggestions.
func (s *IntentSniffer) ClearCache() {
	s.cache.Purge()
}

func readRootFiles(cwd string) (map[string]bool, error) {
	entries, err := os.ReadDir(cwd)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name()] = true
	}
	return out, nil
}

// Sniff returns the skill names activated for cwd, evaluating static,
// declarative, and dynamic rules in that order. Results are cached per cwd
// until ClearCache is called.
func (s *IntentSniffer) Sniff(cwd string) []string {
	if cached, ok := s.cache.Get(cwd); ok {
		out := make([]string, len(cached))
		copy(out, cached)
		return out
	}

	rootFiles, err := readRootFiles(cwd)
	if err != nil {
		slog.Warn("sniffer cannot read directory", slog.String("cwd", cwd), slog.String("error", err.Error()))
		return nil
	}

	active := make(map[string]bool)

	for _, rule := range s.rules {
		if rule.matches(rootFiles) {
			active[rule.SkillName] = true
		}
	}
	for _, rule := range s.declarativeRules {
		if rule.matches(rootFiles) {
			active[rule.SkillName] = true
		}
	}
	for _, sniffer := range s.dynamicSniffers {
		score := sniffer.check(cwd)
		if score >= s.scoreThreshold {
			active[sniffer.SkillName] = true
			slog.Info("dynamic sniffer triggered", slog.String("skill", sniffer.SkillName),
				slog.String("sniffer", sniffer.Name), slog.Float64("score", score))
		}
	}

	result := make([]string, 0, len(active))
	for name := range active {
		result = append(result, name)
	}
	sort.Strings(result)

	s.cache.Add(cwd, result)
	out := make([]string, len(result))
	copy(out, result)
	return out
}

// ScoredSuggestion pairs a skill name with its activation score.
type ScoredSuggestion struct {
	SkillName string
	Score     float64
}

// SniffWithScores returns every matching skill along with its strongest
// contributing score (1.0 for any static/declarative match, the raw score
// for dynamic matches), sorted by score descending then name ascending.
func (s *IntentSniffer) SniffWithScores(cwd string) []ScoredSuggestion {
	rootFiles, err := readRootFiles(cwd)
	if err != nil {
		rootFiles = map[string]bool{}
	}

	scores := make(map[string]float64)
	for _, rule := range s.rules {
		if rule.matches(rootFiles) && scores[rule.SkillName] < 1.0 {
			scores[rule.SkillName] = 1.0
		}
	}
	for _, rule := range s.declarativeRules {
		if rule.matches(rootFiles) && scores[rule.SkillName] < 1.0 {
			scores[rule.SkillName] = 1.0
		}
	}
	for _, sniffer := range s.dynamicSniffers {
		score := sniffer.check(cwd)
		if score > scores[sniffer.SkillName] {
			scores[sniffer.SkillName] = score
		}
	}

	out := make([]ScoredSuggestion, 0, len(scores))
	for name, score := range scores {
		out = append(out, ScoredSuggestion{SkillName: name, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SkillName < out[j].SkillName
	})
	return out
}

// SniffFile returns the skill names whose static rules trigger on file's
// base name alone, independent of directory context.
func (s *IntentSniffer) SniffFile(file string) []string {
	name := filepath.Base(file)
	active := make(map[string]bool)
	for _, rule := range s.rules {
		if rule.Files[name] {
			active[rule.SkillName] = true
		}
	}
	out := make([]string, 0, len(active))
	for skill := range active {
		out = append(out, skill)
	}
	sort.Strings(out)
	return out
}

// ContextualSniffer wraps IntentSniffer with session memory: the
// previously used skill is always surfaced first on the next sniff.
type ContextualSniffer struct {
	sniffer       *IntentSniffer
	lastUsedSkill string
}

// NewContextual creates a session-aware sniffer around a fresh
// IntentSniffer.
func NewContextual() *ContextualSniffer {
	return &ContextualSniffer{sniffer: New()}
}

// RegisterRule adds a static file-based activation rule.
func (c *ContextualSniffer) RegisterRule(rule ActivationRule) {
	c.sniffer.RegisterRule(rule)
}

// RegisterDynamic adds a dynamic scoring sniffer for a skill.
func (c *ContextualSniffer) RegisterDynamic(d DynamicSniffer) {
	c.sniffer.RegisterDynamic(d)
}

// Sniff runs the underlying sniffer and prepends the last-used skill if it
// isn't already present in the results.
func (c *ContextualSniffer) Sniff(cwd string) []string {
	suggestions := c.sniffer.Sniff(cwd)
	if c.lastUsedSkill == "" {
		return suggestions
	}
	for _, s := range suggestions {
		if s == c.lastUsedSkill {
			return suggestions
		}
	}
	return append([]string{c.lastUsedSkill}, suggestions...)
}

// MarkUsed records skill as the most recently used, to be boosted on the
// next Sniff call.
func (c *ContextualSniffer) MarkUsed(skill string) {
	c.lastUsedSkill = skill
}
