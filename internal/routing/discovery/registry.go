// Package discovery provides the lazily-built, in-memory registry of tool
// records ("projected on demand" from the routing core's native store,
// mirroring the holographic-registry pattern: the registry is never
// preloaded, only built on first access from a single bulk store call) plus
// a discovery service that answers natural-language queries with ranked
// tool matches and a generated invocation template.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

// Source performs the one bulk fetch the registry needs to populate
// itself, e.g. reading every registered skill from a skill-registry store.
type Source interface {
	ListTools(ctx context.Context) ([]*routing.ToolRecord, error)
}

// ToolRegistry is an O(1)-lookup, command-keyed view over the tool
// records returned by a Source. It loads once, lazily, on first access;
// call Refresh to force a reload after the underlying skills change.
type ToolRegistry struct {
	source Source

	mu      sync.RWMutex
	loaded  bool
	byID    map[string]*routing.ToolRecord // "skill" or "skill.command" id -> owning ToolRecord
	records []*routing.ToolRecord
}

// NewToolRegistry creates a registry backed by source.
func NewToolRegistry(source Source) *ToolRegistry {
	return &ToolRegistry{source: source}
}

func (r *ToolRegistry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh forces a reload from the source, replacing the registry's
// contents atomically.
func (r *ToolRegistry) Refresh(ctx context.Context) error {
	records, err := r.source.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("discovery: list tools: %w", err)
	}

	byID := make(map[string]*routing.ToolRecord, len(records)*2)
	for _, rec := range records {
		byID[rec.ID()] = rec
		for _, cmd := range rec.Commands {
			byID[routing.CommandID(rec.SkillName, cmd.Name)] = rec
		}
	}

	r.mu.Lock()
	r.byID = byID
	r.records = records
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// GetToolRecord returns the ToolRecord owning id ("skill" or
// "skill.command"), loading the registry on first use.
func (r *ToolRegistry) GetToolRecord(ctx context.Context, id string) (*routing.ToolRecord, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id], nil
}

// All returns every loaded tool record, loading the registry on first use.
func (r *ToolRegistry) All(ctx context.Context) ([]*routing.ToolRecord, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*routing.ToolRecord, len(r.records))
	copy(out, r.records)
	return out, nil
}

// Count returns the number of loaded skill records.
func (r *ToolRegistry) Count(ctx context.Context) (int, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// CategoryDistribution counts records per category (a keyword tag skills
// may set to drive SkillDiscoveryService's category boost); skills with no
// category are counted as "uncategorized".
func (r *ToolRegistry) CategoryDistribution(ctx context.Context, categoryOf func(*routing.ToolRecord) string) (map[string]int, error) {
	records, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	dist := make(map[string]int)
	for _, rec := range records {
		cat := categoryOf(rec)
		if cat == "" {
			cat = "uncategorized"
		}
		dist[cat]++
	}
	return dist, nil
}
