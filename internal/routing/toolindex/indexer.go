// Package toolindex builds and maintains the searchable index of skill and
// command descriptions that the hybrid search and router layers query.
// Re-indexing is skipped whenever a skill's configuration hash is unchanged,
// and a pure in-memory keyword-overlap search covers the case where no
// hybrid search engine is wired in.
package toolindex

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

// Indexer is the subset of hybridsearch.Engine the indexer depends on.
type Indexer interface {
	Index(ctx context.Context, docs []IndexableDoc) error
	Delete(ctx context.Context, ids []string) error
}

// StateStore is the subset of store.MetadataStore the indexer needs to
// persist its hash-skip bookkeeping across restarts, matching the
// GetState/SetState key-value pattern internal/index/coordinator.go already
// uses for its own gitignore-hash skip check.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// indexStateKey is the StateStore key the indexer's persisted state is
// saved under.
const indexStateKey = "routing_toolindex_state"

// persistedState is the {hash, count, timestamp} record SetState stores,
// so a process restart can skip re-embedding an unchanged skill set.
type persistedState struct {
	Hash      string    `json:"hash"`
	Count     int       `json:"count"`
	IndexedAt time.Time `json:"indexed_at"`
}

// IndexableDoc mirrors hybridsearch.IndexableDoc; kept as a local type so
// this package does not have to import hybridsearch just for a struct shape.
type IndexableDoc struct {
	ID      string
	Content string
}

// entryMetadata is attached to each indexed document and later surfaced via
// routing.RoutingSearchResult.Metadata for the router to validate hits.
type entryMetadata struct {
	Type      string // "skill" | "command"
	SkillName string
	Command   string
	Weight    float64
}

func (m entryMetadata) toMap() map[string]string {
	return map[string]string{
		"type":       m.Type,
		"skill_name": m.SkillName,
		"command":    m.Command,
		"weight":     fmt.Sprintf("%g", m.Weight),
	}
}

// memoryEntry backs the in-memory keyword-overlap fallback search.
type memoryEntry struct {
	content  string
	metadata entryMetadata
}

// SkillIndexer builds a searchable index from ToolRecords: one entry per
// skill description, plus one per command. It tracks an MD5 hash of the
// skill configuration to skip re-indexing when nothing changed, and
// maintains an in-memory keyword index usable with or without a wired
// Indexer backend.
type SkillIndexer struct {
	indexer Indexer    // optional; nil means in-memory-only mode
	state   StateStore // optional; nil means hash-skip does not survive a restart

	mu           sync.RWMutex
	lastHash     string
	indexedCount int
	entries      map[string]memoryEntry // id -> entry, for fallback search + metadata lookup
	keywordIndex map[string][]string    // lowercase keyword -> skill names
	commandIndex map[string][]string    // skill name -> "skill.command" ids
}

// New creates a SkillIndexer. indexer may be nil, running the indexer in
// pure in-memory/keyword mode (used in tests and when no embedder/store is
// configured).
func New(indexer Indexer) *SkillIndexer {
	return &SkillIndexer{
		indexer:      indexer,
		entries:      make(map[string]memoryEntry),
		keywordIndex: make(map[string][]string),
		commandIndex: make(map[string][]string),
	}
}

// NewWithState creates a SkillIndexer whose hash-skip bookkeeping (but not
// the in-memory keyword/metadata maps, which still require a rebuild after a
// restart) is persisted to state under indexStateKey.
func NewWithState(indexer Indexer, state StateStore) *SkillIndexer {
	s := New(indexer)
	s.state = state
	return s
}

// LoadPersistedHash restores the last-indexed hash/count from state, if any
// was saved by a previous process. Callers still rebuild the in-memory
// entries/keyword/command maps on every startup (IndexTools always runs
// at least once), but a matching hash lets that rebuild skip the
// potentially expensive embed+index round trip.
func (s *SkillIndexer) LoadPersistedHash(ctx context.Context) {
	if s.state == nil {
		return
	}
	raw, err := s.state.GetState(ctx, indexStateKey)
	if err != nil || raw == "" {
		return
	}
	var saved persistedState
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		slog.Warn("toolindex: failed to parse persisted state", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.lastHash = saved.Hash
	s.indexedCount = saved.Count
	s.mu.Unlock()
}

func (s *SkillIndexer) persistState(ctx context.Context, hash string, count int) {
	if s.state == nil {
		return
	}
	encoded, err := json.Marshal(persistedState{Hash: hash, Count: count, IndexedAt: time.Now()})
	if err != nil {
		slog.Warn("toolindex: failed to encode persisted state", slog.String("error", err.Error()))
		return
	}
	if err := s.state.SetState(ctx, indexStateKey, string(encoded)); err != nil {
		slog.Warn("toolindex: failed to save persisted state", slog.String("error", err.Error()))
	}
}

// IndexedCount reports how many documents are currently indexed.
func (s *SkillIndexer) IndexedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexedCount
}

// configHash hashes the (name, sorted commands, description/keywords/intents
// hashes) of every tool, sorted by skill name, matching the original
// indexer's smart-indexing hash so unrelated reorderings don't force a
// rebuild.
func configHash(tools []*routing.ToolRecord) string {
	type toolState struct {
		Name            string   `json:"name"`
		Commands        []string `json:"commands"`
		DescriptionHash string   `json:"description_hash"`
		KeywordsHash    string   `json:"keywords_hash"`
		IntentsHash     string   `json:"intents_hash"`
	}

	states := make([]toolState, 0, len(tools))
	for _, t := range tools {
		cmdNames := make([]string, len(t.Commands))
		for i, c := range t.Commands {
			cmdNames[i] = c.Name
		}
		sort.Strings(cmdNames)
		states = append(states, toolState{
			Name:            t.SkillName,
			Commands:        cmdNames,
			DescriptionHash: md5Hex(t.Description),
			KeywordsHash:    md5HexJSON(t.Keywords),
			IntentsHash:     md5HexJSON(t.Intents),
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	encoded, _ := json.Marshal(states)
	return md5Hex(string(encoded))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func md5HexJSON(v interface{}) string {
	sorted := append([]string(nil), toStringSlice(v)...)
	sort.Strings(sorted)
	encoded, _ := json.Marshal(sorted)
	return md5Hex(string(encoded))
}

func toStringSlice(v interface{}) []string {
	if s, ok := v.([]string); ok {
		return s
	}
	return nil
}

// IndexTools rebuilds the index from tools, skipping the rebuild entirely
// when the computed configuration hash matches the last indexed state (same
// process), and skipping just the expensive embed+index round trip (but
// still rebuilding the cheap in-memory keyword/metadata maps) when the hash
// matches a hash persisted by a previous process via StateStore. Returns
// the number of documents indexed (0 on a fully skipped rebuild means the
// previous count is unchanged, not that indexing failed).
func (s *SkillIndexer) IndexTools(ctx context.Context, tools []*routing.ToolRecord) (int, error) {
	hash := configHash(tools)

	s.mu.Lock()
	if hash != "" && hash == s.lastHash && len(s.entries) > 0 {
		count := s.indexedCount
		s.mu.Unlock()
		slog.Info("tool index up to date, skipping rebuild", slog.Int("entries", count))
		return count, nil
	}
	alreadyEmbedded := hash != "" && hash == s.lastHash
	s.mu.Unlock()

	docs, entries, keywordIndex, commandIndex := buildDocs(tools)
	if len(docs) == 0 {
		return 0, nil
	}

	if s.indexer != nil && !alreadyEmbedded {
		indexDocs := make([]IndexableDoc, len(docs))
		copy(indexDocs, docs)
		if err := s.indexer.Index(ctx, indexDocs); err != nil {
			return 0, fmt.Errorf("toolindex: index tools: %w", err)
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.keywordIndex = keywordIndex
	s.commandIndex = commandIndex
	s.indexedCount = len(docs)
	s.lastHash = hash
	s.mu.Unlock()

	s.persistState(ctx, hash, len(docs))

	if alreadyEmbedded {
		slog.Info("tool index config unchanged since last run, skipped re-embed", slog.Int("entries", len(docs)))
	} else {
		slog.Info("tool index rebuilt", slog.Int("entries", len(docs)))
	}
	return len(docs), nil
}

// buildDocs converts tool records into indexable documents (skill + command
// entries) plus the keyword/command lookup maps used by the fallback search
// and the router's KeywordIndex.
func buildDocs(tools []*routing.ToolRecord) ([]IndexableDoc, map[string]memoryEntry, map[string][]string, map[string][]string) {
	var docs []IndexableDoc
	entries := make(map[string]memoryEntry)
	keywordIndex := make(map[string][]string)
	commandIndex := make(map[string][]string)

	for _, t := range tools {
		if strings.TrimSpace(t.Description) != "" {
			id := t.ID()
			content := fmt.Sprintf("Skill %s: %s", t.SkillName, t.Description)
			meta := entryMetadata{Type: "skill", SkillName: t.SkillName, Weight: 1.0}
			docs = append(docs, IndexableDoc{ID: id, Content: content})
			entries[id] = memoryEntry{content: content, metadata: meta}
		}

		for _, cmd := range t.Commands {
			desc := cmd.Description
			if desc == "" {
				desc = cmd.Name
			}
			cmdID := routing.CommandID(t.SkillName, cmd.Name)

			var b strings.Builder
			fmt.Fprintf(&b, "COMMAND: %s\n", cmdID)
			fmt.Fprintf(&b, "DESCRIPTION: %s\n", desc)
			if len(t.Intents) > 0 {
				fmt.Fprintf(&b, "INTENTS: %s\n", strings.Join(t.Intents, ", "))
			}
			if len(cmd.Keywords) > 0 {
				fmt.Fprintf(&b, "KEYWORDS: %s", strings.Join(cmd.Keywords, ", "))
			}

			meta := entryMetadata{Type: "command", SkillName: t.SkillName, Command: cmd.Name, Weight: 2.0}
			docs = append(docs, IndexableDoc{ID: cmdID, Content: b.String()})
			entries[cmdID] = memoryEntry{content: b.String(), metadata: meta}
			commandIndex[t.SkillName] = append(commandIndex[t.SkillName], cmdID)
		}

		for _, kw := range append(append([]string(nil), t.Keywords...), flattenCommandKeywords(t.Commands)...) {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			keywordIndex[kw] = appendUniqueStr(keywordIndex[kw], t.SkillName)
		}
	}

	return docs, entries, keywordIndex, commandIndex
}

func flattenCommandKeywords(commands []routing.ToolCommand) []string {
	var out []string
	for _, c := range commands {
		out = append(out, c.Keywords...)
	}
	return out
}

func appendUniqueStr(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// SkillsForKeyword implements router.KeywordIndex.
func (s *SkillIndexer) SkillsForKeyword(kw string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keywordIndex[strings.ToLower(kw)]
}

// CommandsForSkill implements router.KeywordIndex.
func (s *SkillIndexer) CommandsForSkill(skillName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commandIndex[skillName]
}

// MetadataFor returns the stored metadata map for id (skill or command),
// used by callers that enrich hybridsearch hits before routing decisions.
func (s *SkillIndexer) MetadataFor(id string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return entry.metadata.toMap(), true
}

// Search is the in-memory keyword-overlap fallback: score =
// min(0.9, matches/queryTerms), used when no hybrid search engine is wired
// in (e.g. embedder unavailable). Matches router.Searcher's signature so it
// can be wired in directly as a degraded-mode searcher.
func (s *SkillIndexer) Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryWords := uniqueWords(strings.ToLower(query))
	if len(queryWords) == 0 || len(s.entries) == 0 {
		return nil, nil
	}

	var results []*routing.RoutingSearchResult
	for id, entry := range s.entries {
		contentLower := strings.ToLower(entry.content)
		matches := 0
		for _, w := range queryWords {
			if strings.Contains(contentLower, w) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(queryWords))
		if score > 0.9 {
			score = 0.9
		}
		results = append(results, &routing.RoutingSearchResult{
			ID:       id,
			Content:  entry.content,
			Score:    score,
			Metadata: entry.metadata.toMap(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func uniqueWords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(s) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
