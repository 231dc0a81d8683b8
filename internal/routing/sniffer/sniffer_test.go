package sniffer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDirWithFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	return dir
}

func TestSniff_StaticRuleMatchesOnExactFile(t *testing.T) {
	dir := tempDirWithFiles(t, "pyproject.toml")
	s := New()
	s.RegisterRule(ActivationRule{SkillName: "python", Files: map[string]bool{"pyproject.toml": true}})

	result := s.Sniff(dir)
	assert.Equal(t, []string{"python"}, result)
}

func TestSniff_StaticRulePatternGlobMatch(t *testing.T) {
	dir := tempDirWithFiles(t, "main.go", "go.mod")
	s := New()
	s.RegisterRule(ActivationRule{SkillName: "golang", Pattern: "*.go"})

	result := s.Sniff(dir)
	assert.Equal(t, []string{"golang"}, result)
}

func TestSniff_DeclarativeFileExistsRule(t *testing.T) {
	dir := tempDirWithFiles(t, "Cargo.toml")
	s := New()
	s.RegisterDeclarativeRules("rust", []DeclarativeRule{
		{Type: RuleFileExists, Pattern: "Cargo.toml"},
	})

	result := s.Sniff(dir)
	assert.Equal(t, []string{"rust"}, result)
}

func TestSniff_DeclarativeFilePatternRule(t *testing.T) {
	dir := tempDirWithFiles(t, "index.ts")
	s := New()
	s.RegisterDeclarativeRules("typescript", []DeclarativeRule{
		{Type: RuleFilePattern, Pattern: "*.ts"},
	})

	result := s.Sniff(dir)
	assert.Equal(t, []string{"typescript"}, result)
}

func TestRegisterDeclarativeRules_SkipsMalformedEntries(t *testing.T) {
	s := New()
	count := s.RegisterDeclarativeRules("bad", []DeclarativeRule{
		{Type: "unknown", Pattern: "x"},
		{Type: RuleFileExists, Pattern: ""},
		{Type: RuleFileExists, Pattern: "valid.txt"},
	})
	assert.Equal(t, 1, count)
}

func TestSniff_DynamicSnifferAboveThresholdActivates(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.RegisterDynamic(DynamicSniffer{
		SkillName: "docker", Name: "compose-check",
		Func: func(cwd string) float64 { return 0.8 },
	})

	result := s.Sniff(dir)
	assert.Equal(t, []string{"docker"}, result)
}

func TestSniff_DynamicSnifferBelowThresholdDoesNotActivate(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.RegisterDynamic(DynamicSniffer{
		SkillName: "docker",
		Func:      func(cwd string) float64 { return 0.2 },
	})

	assert.Empty(t, s.Sniff(dir))
}

func TestSniff_DynamicSnifferPanicScoresZero(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.RegisterDynamic(DynamicSniffer{
		SkillName: "crashy",
		Func:      func(cwd string) float64 { panic("boom") },
	})

	assert.Empty(t, s.Sniff(dir))
}

func TestSniff_CachesResultsPerDirectory(t *testing.T) {
	dir := tempDirWithFiles(t, "pyproject.toml")
	s := New()
	s.RegisterRule(ActivationRule{SkillName: "python", Files: map[string]bool{"pyproject.toml": true}})

	first := s.Sniff(dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "pyproject.toml")))
	second := s.Sniff(dir)
	assert.Equal(t, first, second, "cached result should not reflect the deleted file")

	s.ClearCache()
	third := s.Sniff(dir)
	assert.Empty(t, third)
}

func TestSniff_UnreadableDirectoryReturnsNil(t *testing.T) {
	s := New()
	result := s.Sniff(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Nil(t, result)
}

func TestSniffWithScores_SortsDescendingByScore(t *testing.T) {
	dir := tempDirWithFiles(t, "pyproject.toml")
	s := New()
	s.RegisterRule(ActivationRule{SkillName: "python", Files: map[string]bool{"pyproject.toml": true}})
	s.RegisterDynamic(DynamicSniffer{SkillName: "weak", Func: func(cwd string) float64 { return 0.1 }})

	result := s.SniffWithScores(dir)
	require.Len(t, result, 2)
	assert.Equal(t, "python", result[0].SkillName)
	assert.Equal(t, 1.0, result[0].Score)
	assert.Equal(t, "weak", result[1].SkillName)
	assert.Equal(t, 0.1, result[1].Score)
}

func TestSniffFile_MatchesOnBaseNameOnly(t *testing.T) {
	s := New()
	s.RegisterRule(ActivationRule{SkillName: "python", Files: map[string]bool{"pyproject.toml": true}})

	result := s.SniffFile("/some/nested/path/pyproject.toml")
	assert.Equal(t, []string{"python"}, result)
}

func TestContextualSniffer_BoostsLastUsedSkill(t *testing.T) {
	dir := tempDirWithFiles(t, "pyproject.toml")
	c := NewContextual()
	c.RegisterRule(ActivationRule{SkillName: "python", Files: map[string]bool{"pyproject.toml": true}})
	c.MarkUsed("memory")

	result := c.Sniff(dir)
	require.Len(t, result, 2)
	assert.Equal(t, "memory", result[0])
	assert.Equal(t, "python", result[1])
}

func TestContextualSniffer_DoesNotDuplicateAlreadyPresentSkill(t *testing.T) {
	dir := tempDirWithFiles(t, "pyproject.toml")
	c := NewContextual()
	c.RegisterRule(ActivationRule{SkillName: "python", Files: map[string]bool{"pyproject.toml": true}})
	c.MarkUsed("python")

	result := c.Sniff(dir)
	assert.Equal(t, []string{"python"}, result)
}
