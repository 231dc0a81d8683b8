package toolindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmcp/internal/routing"
)

type fakeIndexer struct {
	indexCalls [][]IndexableDoc
	deleteIDs  []string
	err        error
}

func (f *fakeIndexer) Index(ctx context.Context, docs []IndexableDoc) error {
	f.indexCalls = append(f.indexCalls, docs)
	return f.err
}

func (f *fakeIndexer) Delete(ctx context.Context, ids []string) error {
	f.deleteIDs = append(f.deleteIDs, ids...)
	return nil
}

func gitTools() []*routing.ToolRecord {
	return []*routing.ToolRecord{
		{
			SkillName:   "git",
			Description: "Run git version control commands",
			Keywords:    []string{"git", "version control"},
			Intents:     []string{"check repo status", "inspect history"},
			Commands: []routing.ToolCommand{
				{Name: "status", Description: "Show working tree status", Keywords: []string{"status", "diff"}},
				{Name: "log", Description: "Show commit history", Keywords: []string{"history", "log"}},
			},
		},
		{
			SkillName:   "memory",
			Description: "Save and recall notes",
			Keywords:    []string{"memory", "notes"},
			Commands: []routing.ToolCommand{
				{Name: "save", Description: "Save a note"},
			},
		},
	}
}

func TestIndexTools_BuildsSkillAndCommandDocs(t *testing.T) {
	idx := &fakeIndexer{}
	si := New(idx)

	count, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)
	// 2 skill docs + 3 command docs
	assert.Equal(t, 5, count)
	assert.Equal(t, 5, si.IndexedCount())
	require.Len(t, idx.indexCalls, 1)
	assert.Len(t, idx.indexCalls[0], 5)
}

func TestIndexTools_SkipsRebuildWhenHashUnchanged(t *testing.T) {
	idx := &fakeIndexer{}
	si := New(idx)

	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)
	require.Len(t, idx.indexCalls, 1)

	_, err = si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)
	assert.Len(t, idx.indexCalls, 1, "second identical call should be skipped")
}

func TestIndexTools_RebuildsWhenToolsChange(t *testing.T) {
	idx := &fakeIndexer{}
	si := New(idx)

	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	changed := gitTools()
	changed[0].Commands = append(changed[0].Commands, routing.ToolCommand{Name: "diff", Description: "Show diff"})

	count, err := si.IndexTools(context.Background(), changed)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Len(t, idx.indexCalls, 2)
}

func TestIndexTools_WorksWithNilIndexer(t *testing.T) {
	si := New(nil)
	count, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

type fakeStateStore struct {
	values map[string]string
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{values: make(map[string]string)}
}

func (f *fakeStateStore) GetState(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeStateStore) SetState(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func TestIndexTools_SkipsReEmbedAfterRestartWithMatchingPersistedHash(t *testing.T) {
	state := newFakeStateStore()

	firstIdx := &fakeIndexer{}
	first := NewWithState(firstIdx, state)
	_, err := first.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)
	require.Len(t, firstIdx.indexCalls, 1)

	// Simulate a process restart: a brand new SkillIndexer backed by the
	// same state store, which must load the persisted hash before indexing.
	secondIdx := &fakeIndexer{}
	second := NewWithState(secondIdx, state)
	second.LoadPersistedHash(context.Background())

	count, err := second.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Empty(t, secondIdx.indexCalls, "unchanged config after restart must not trigger a re-embed")
	assert.Equal(t, 5, second.IndexedCount())
}

func TestSkillsForKeyword_ReturnsMatchingSkills(t *testing.T) {
	si := New(nil)
	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	assert.Equal(t, []string{"git"}, si.SkillsForKeyword("git"))
	assert.Equal(t, []string{"git"}, si.SkillsForKeyword("GIT"))
	assert.Empty(t, si.SkillsForKeyword("nonexistent"))
}

func TestCommandsForSkill_ReturnsKnownCommandIDs(t *testing.T) {
	si := New(nil)
	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"git.status", "git.log"}, si.CommandsForSkill("git"))
	assert.Equal(t, []string{"memory.save"}, si.CommandsForSkill("memory"))
}

func TestMetadataFor_ReturnsStoredMetadata(t *testing.T) {
	si := New(nil)
	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	meta, ok := si.MetadataFor("git.status")
	require.True(t, ok)
	assert.Equal(t, "command", meta["type"])
	assert.Equal(t, "git", meta["skill_name"])
	assert.Equal(t, "status", meta["command"])

	_, ok = si.MetadataFor("nonexistent.id")
	assert.False(t, ok)
}

func TestSearch_KeywordOverlapFallback(t *testing.T) {
	si := New(nil)
	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	results, err := si.Search(context.Background(), "commit history log", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "git.log", results[0].ID)
}

func TestSearch_ReturnsNilForEmptyQuery(t *testing.T) {
	si := New(nil)
	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	results, err := si.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearch_RespectsLimit(t *testing.T) {
	si := New(nil)
	_, err := si.IndexTools(context.Background(), gitTools())
	require.NoError(t, err)

	results, err := si.Search(context.Background(), "git status log history notes memory", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestIndexTools_EmptyToolsReturnsZero(t *testing.T) {
	idx := &fakeIndexer{}
	si := New(idx)
	count, err := si.IndexTools(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, idx.indexCalls)
}
