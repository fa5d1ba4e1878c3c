package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/embedders"
)

func newTestStore(t *testing.T, maxMemories int, embedder embedders.Embedder) *Store {
	t.Helper()
	cfg := &config.MemoryConfig{
		Path:                filepath.Join(t.TempDir(), "memories.db"),
		MaxMemories:         maxMemories,
		SimilarityThreshold: 0.7,
	}
	s, err := Open(cfg, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQualityScore(t *testing.T) {
	// No feedback yet: neutral baseline.
	assert.Equal(t, 50.0, QualityScore(0, 0, 0))

	// Perfect record with saturated volume.
	assert.InDelta(t, 100.0, QualityScore(5, 10, 10), 1e-9)

	// Three ratings averaging 4.333, all helpful.
	avg := (4.0*2 + 5) / 3
	assert.InDelta(t, 80.667, QualityScore(avg, 3, 3), 0.001)
}

func TestSaveAndFeedbackFolding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, embedders.NewFakeEmbedder(16))

	id := s.SaveSolution(ctx, "write a binary search in go", "func search() {}", "code_writer", nil, "qwen3:8b")
	require.NotEmpty(t, id)

	require.NoError(t, s.UpdateSolutionFeedback(ctx, id, 4, true))
	require.NoError(t, s.UpdateSolutionFeedback(ctx, id, 4, true))
	require.NoError(t, s.UpdateSolutionFeedback(ctx, id, 5, true))

	rec, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.FeedbackCount)
	assert.Equal(t, 3, rec.HelpfulCount)
	assert.InDelta(t, 4.333, rec.AvgRating, 0.001)
	assert.InDelta(t, 80.667, rec.QualityScore, 0.001)
	assert.Equal(t, "qwen3:8b", rec.Metadata["model_used"])
}

func TestFeedbackRejectsOutOfRangeRating(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, nil)

	id := s.SaveSolution(ctx, "task", "solution", "agent", nil, "")
	require.NotEmpty(t, id)

	assert.Error(t, s.UpdateSolutionFeedback(ctx, id, 0, true))
	assert.Error(t, s.UpdateSolutionFeedback(ctx, id, 6, false))
}

func TestSearchSimilarTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, embedders.NewFakeEmbedder(32))

	target := s.SaveSolution(ctx, "parse yaml configuration files", "use a yaml parser", "code_writer", nil, "")
	s.SaveSolution(ctx, "completely unrelated astronomy trivia question", "answer", "research", nil, "")

	results := s.SearchSimilarTasks(ctx, "parse yaml configuration files", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, target, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearchSubstringFallbackWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, nil)

	id := s.SaveSolution(ctx, "Refactor the HTTP client retry logic", "done", "code_writer", nil, "")
	require.NotEmpty(t, id)

	results := s.SearchSimilarTasks(ctx, "http client retry", 5)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	// Fallback hits score exactly at the threshold.
	assert.Equal(t, s.cfg.SimilarityThreshold, results[0].Similarity)

	assert.Empty(t, s.SearchSimilarTasks(ctx, "kubernetes operator", 5))
}

func TestQualityWeightedSearchRefreshesLastUsed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, embedders.NewFakeEmbedder(32))

	id := s.SaveSolution(ctx, "sort a slice of structs by field", "sort.Slice(...)", "code_writer", nil, "")
	require.NoError(t, s.UpdateSolutionFeedback(ctx, id, 5, true))

	before, err := s.GetRecord(ctx, id)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	results := s.SearchSimilarTasksWithQuality(ctx, "sort a slice of structs by field", 5, 0)
	require.Len(t, results, 1)

	after, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, after.LastUsed.After(before.LastUsed))
}

func TestQualityWeightedSearchFiltersMinQuality(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, embedders.NewFakeEmbedder(32))

	low := s.SaveSolution(ctx, "generate a report summary", "bad draft", "research", nil, "")
	high := s.SaveSolution(ctx, "generate a report summary", "good draft", "research", nil, "")
	require.NoError(t, s.UpdateSolutionFeedback(ctx, low, 1, false))
	require.NoError(t, s.UpdateSolutionFeedback(ctx, high, 5, true))

	results := s.SearchSimilarTasksWithQuality(ctx, "generate a report summary", 5, 60)
	require.Len(t, results, 1)
	assert.Equal(t, high, results[0].ID)
}

func TestEvictionKeepsHigherQuality(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3, nil)

	keep := s.SaveSolution(ctx, "task high", "solution", "agent", nil, "")
	victim := s.SaveSolution(ctx, "task low", "solution", "agent", nil, "")
	s.SaveSolution(ctx, "task neutral", "solution", "agent", nil, "")

	require.NoError(t, s.UpdateSolutionFeedback(ctx, keep, 5, true))
	require.NoError(t, s.UpdateSolutionFeedback(ctx, victim, 1, false))

	// Fourth insert pushes the store over capacity.
	s.SaveSolution(ctx, "task overflow", "solution", "agent", nil, "")

	assert.Equal(t, 3, s.Count(ctx))
	_, err := s.GetRecord(ctx, victim)
	assert.Error(t, err, "lowest-quality record should have been evicted")
	_, err = s.GetRecord(ctx, keep)
	assert.NoError(t, err)
}

func TestBestModelForTaskType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, nil)

	// Under three samples: no recommendation yet.
	s.RecordModelResult(ctx, "qwen3:8b", TaskTypeCode, true, 80, time.Second)
	assert.Nil(t, s.BestModelForTaskType(ctx, TaskTypeCode))

	s.RecordModelResult(ctx, "qwen3:8b", TaskTypeCode, true, 85, time.Second)
	s.RecordModelResult(ctx, "qwen3:8b", TaskTypeCode, true, 90, time.Second)
	s.RecordModelResult(ctx, "llama3:70b", TaskTypeCode, true, 60, 2*time.Second)
	s.RecordModelResult(ctx, "llama3:70b", TaskTypeCode, false, 40, 2*time.Second)
	s.RecordModelResult(ctx, "llama3:70b", TaskTypeCode, false, 30, 2*time.Second)

	best := s.BestModelForTaskType(ctx, TaskTypeCode)
	require.NotNil(t, best)
	assert.Equal(t, "qwen3:8b", best.Model)
	assert.InDelta(t, 1.0, best.SuccessRate, 1e-9)
	assert.Equal(t, 3, best.Samples)
	assert.InDelta(t, 85.0, best.AvgQuality, 1e-9)

	assert.Nil(t, s.BestModelForTaskType(ctx, TaskTypeChat))
}

func TestErrorAvoidancePrompt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, nil)

	s.SaveFailedTask(ctx, FailedTask{
		Task:         "deploy the payment service to staging",
		Agent:        "integration",
		ErrorKind:    "timeout",
		ErrorMessage: "health check never passed",
	})

	prompt := s.ErrorAvoidancePrompt(ctx, "deploy the payment service to production", "integration")
	assert.Contains(t, prompt, "timeout")
	assert.Contains(t, prompt, "health check never passed")

	assert.Empty(t, s.ErrorAvoidancePrompt(ctx, "write a haiku", "integration"))
	assert.Empty(t, s.ErrorAvoidancePrompt(ctx, "deploy the payment service", "code_writer"))
}

func TestUserPreferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, nil)

	assert.Empty(t, s.PersonalizationPrompt(ctx, "alice"))

	s.SaveUserPreference(ctx, "alice", "language", "go")
	s.SaveUserPreference(ctx, "alice", "style", "terse")
	s.SaveUserPreference(ctx, "alice", "language", "rust")

	prompt := s.PersonalizationPrompt(ctx, "alice")
	assert.Contains(t, prompt, "language: rust")
	assert.Contains(t, prompt, "style: terse")
	assert.NotContains(t, prompt, "language: go")
}

func TestCommonIssues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 100, nil)

	s.RecordErrorPattern(ctx, "code_writer", "missing error handling")
	s.RecordErrorPattern(ctx, "code_writer", "missing error handling")
	s.RecordErrorPattern(ctx, "code_writer", "unused import")

	issues := s.CommonIssues(ctx, "code_writer", 5)
	require.Len(t, issues, 2)
	assert.Equal(t, "missing error handling", issues[0])
}

func TestReopenPreservesData(t *testing.T) {
	ctx := context.Background()
	cfg := &config.MemoryConfig{
		Path:                filepath.Join(t.TempDir(), "memories.db"),
		MaxMemories:         100,
		SimilarityThreshold: 0.7,
	}

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	id := s.SaveSolution(ctx, "task", "solution", "agent", nil, "")
	require.NotEmpty(t, id)
	require.NoError(t, s.Close())

	s2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer s2.Close()
	rec, err := s2.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "solution", rec.Solution)
}
