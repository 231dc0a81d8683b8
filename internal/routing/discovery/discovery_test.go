package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

type fakeSource struct {
	records []*routing.ToolRecord
	err     error
}

func (f *fakeSource) ListTools(ctx context.Context) ([]*routing.ToolRecord, error) {
	return f.records, f.err
}

func gitToolRecords() []*routing.ToolRecord {
	return []*routing.ToolRecord{
		{
			SkillName: "git",
			Commands: []routing.ToolCommand{
				{Name: "status", Description: "Show working tree status"},
				{Name: "log", Description: "Show commit history"},
			},
		},
		{
			SkillName: "memory",
			Commands: []routing.ToolCommand{
				{Name: "save", Description: "Save a note"},
			},
		},
	}
}

func TestToolRegistry_GetToolRecord_LoadsLazilyAndCaches(t *testing.T) {
	source := &fakeSource{records: gitToolRecords()}
	reg := NewToolRegistry(source)

	rec, err := reg.GetToolRecord(context.Background(), "git.status")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "git", rec.SkillName)

	rec, err = reg.GetToolRecord(context.Background(), "git")
	require.NoError(t, err)
	require.NotNil(t, rec)

	_, err = reg.GetToolRecord(context.Background(), "nonexistent.id")
	require.NoError(t, err)
}

func TestToolRegistry_GetToolRecord_ReturnsNilForUnknownID(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	rec, err := reg.GetToolRecord(context.Background(), "nope.nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestToolRegistry_PropagatesSourceError(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{err: errors.New("store down")})
	_, err := reg.GetToolRecord(context.Background(), "git.status")
	assert.Error(t, err)
}

func TestToolRegistry_Count(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	count, err := reg.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestToolRegistry_Refresh_ReplacesContents(t *testing.T) {
	source := &fakeSource{records: gitToolRecords()}
	reg := NewToolRegistry(source)
	_, err := reg.Count(context.Background())
	require.NoError(t, err)

	source.records = append(source.records, &routing.ToolRecord{SkillName: "docker"})
	require.NoError(t, reg.Refresh(context.Background()))

	count, err := reg.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestToolRegistry_CategoryDistribution(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	dist, err := reg.CategoryDistribution(context.Background(), func(r *routing.ToolRecord) string {
		if r.SkillName == "git" {
			return "version_control"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dist["version_control"])
	assert.Equal(t, 1, dist["uncategorized"])
}

type fakeSearcher struct {
	results []*routing.RoutingSearchResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]*routing.RoutingSearchResult, error) {
	return f.results, f.err
}

func TestSkillDiscoveryService_Search_PrefersSearcherResults(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	searcher := &fakeSearcher{results: []*routing.RoutingSearchResult{
		{ID: "git.status", Score: 0.9, Content: "Show working tree status", Metadata: map[string]string{"skill_name": "git"}},
	}}
	svc := NewSkillDiscoveryService(reg, searcher, nil)

	matches, err := svc.Search(context.Background(), "check repo status", 5, 0.1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "git.status", matches[0].CommandID)
	assert.NotEmpty(t, matches[0].UsageTemplate)
}

func TestSkillDiscoveryService_Search_FallsBackToKeywordScoringWhenNoSearcher(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	svc := NewSkillDiscoveryService(reg, nil, nil)

	matches, err := svc.Search(context.Background(), "git status", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "git.status", matches[0].CommandID)
}

func TestSkillDiscoveryService_Search_ReturnsDiscoverFallbackWhenNothingMatches(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	svc := NewSkillDiscoveryService(reg, nil, nil)

	matches, err := svc.Search(context.Background(), "completely unrelated gibberish zzz", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, discoverFallbackID, matches[0].CommandID)
}

func TestSkillDiscoveryService_Search_CategoryBoostAffectsFallbackScore(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	svc := NewSkillDiscoveryService(reg, nil, func(r *routing.ToolRecord) string {
		if r.SkillName == "git" {
			return "version_control"
		}
		return ""
	})

	matches, err := svc.Search(context.Background(), "git commit history", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestSkillDiscoveryService_Search_FallsBackWhenSearcherErrors(t *testing.T) {
	reg := NewToolRegistry(&fakeSource{records: gitToolRecords()})
	searcher := &fakeSearcher{err: errors.New("search backend down")}
	svc := NewSkillDiscoveryService(reg, searcher, nil)

	matches, err := svc.Search(context.Background(), "git status", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "git.status", matches[0].CommandID)
}
