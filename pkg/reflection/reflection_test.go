package reflection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
)

type fakeGen struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeGen) Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &llms.Response{Content: f.responses[i]}, nil
}

type fakeLearner struct {
	outcomes      []float64
	patterns      []string
	savedQuality  float64
	savedSolution string
}

func (f *fakeLearner) FewShotPrompt(ctx context.Context, task string, k int, minQuality float64) string {
	return ""
}
func (f *fakeLearner) ErrorAvoidancePrompt(ctx context.Context, task, agent string) string { return "" }
func (f *fakeLearner) CommonIssues(ctx context.Context, agent string, limit int) []string  { return nil }
func (f *fakeLearner) RecordReflectionOutcome(ctx context.Context, agent string, quality float64, corrected bool, attempts int, duration time.Duration) {
	f.outcomes = append(f.outcomes, quality)
}
func (f *fakeLearner) RecordErrorPattern(ctx context.Context, agent, pattern string) {
	f.patterns = append(f.patterns, pattern)
}
func (f *fakeLearner) SaveSolutionScored(ctx context.Context, task, solution, agent string, metadata map[string]interface{}, modelUsed string, quality float64) string {
	f.savedQuality = quality
	f.savedSolution = solution
	return "mem-1"
}

func newTestController(gen Generator, learner Learner) *Controller {
	cfg := &config.ReflectionConfig{}
	cfg.SetDefaults()
	return NewController(cfg, gen, learner)
}

func scorecard(completeness, correctness, quality float64, issues ...string) string {
	issueJSON := ""
	for i, issue := range issues {
		if i > 0 {
			issueJSON += ","
		}
		issueJSON += fmt.Sprintf("%q", issue)
	}
	return fmt.Sprintf(`{"completeness": %g, "correctness": %g, "quality": %g, "issues": [%s], "improvements": []}`,
		completeness, correctness, quality, issueJSON)
}

func TestQualityLevels(t *testing.T) {
	assert.Equal(t, "excellent", qualityLevel(92))
	assert.Equal(t, "good", qualityLevel(70))
	assert.Equal(t, "acceptable", qualityLevel(55))
	assert.Equal(t, "poor", qualityLevel(31))
	assert.Equal(t, "failed", qualityLevel(10))
}

func TestReflectOnResultComputesOverall(t *testing.T) {
	gen := &fakeGen{responses: []string{scorecard(80, 90, 70, "minor nit")}}
	c := newTestController(gen, nil)

	score := c.ReflectOnResult(context.Background(), "task", map[string]interface{}{"code": "x = 1"}, "code_writer", nil)
	assert.InDelta(t, 0.35*80+0.45*90+0.20*70, score.Overall, 1e-9)
	assert.Equal(t, "good", score.Level)
	assert.False(t, score.ShouldRetry, "above threshold")
}

func TestReflectionFailureDegrades(t *testing.T) {
	gen := &fakeGen{err: fmt.Errorf("model offline")}
	c := newTestController(gen, nil)

	score := c.ReflectOnResult(context.Background(), "task", map[string]interface{}{}, "code_writer", nil)
	assert.Equal(t, "acceptable", score.Level)
	assert.False(t, score.ShouldRetry)
}

func TestUnparseableScorecardDegrades(t *testing.T) {
	gen := &fakeGen{responses: []string{"I think the result is pretty good overall."}}
	c := newTestController(gen, nil)

	score := c.ReflectOnResult(context.Background(), "task", map[string]interface{}{}, "code_writer", nil)
	assert.Equal(t, "acceptable", score.Level)
	assert.False(t, score.ShouldRetry)
}

func TestScoresClippedToRange(t *testing.T) {
	gen := &fakeGen{responses: []string{scorecard(150, -20, 50)}}
	c := newTestController(gen, nil)

	score := c.ReflectOnResult(context.Background(), "task", map[string]interface{}{}, "code_writer", nil)
	assert.Equal(t, 100.0, score.Completeness)
	assert.Equal(t, 0.0, score.Correctness)
}

func TestReflectionLoopCorrectsPoorResult(t *testing.T) {
	// First evaluation scores 40 with an issue, the corrected attempt 85.
	gen := &fakeGen{responses: []string{
		scorecard(40, 40, 40, "missing colon on line 3"),
		scorecard(85, 85, 85),
	}}
	learner := &fakeLearner{}
	c := newTestController(gen, learner)

	execCalls := 0
	exec := func(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
		execCalls++
		if execCalls == 1 {
			return map[string]interface{}{"code": "def f(\n    pass"}, nil
		}
		assert.Equal(t, true, execCtx["_correction_mode"])
		assert.Contains(t, task, "missing colon on line 3")
		return map[string]interface{}{"code": "def f():\n    pass"}, nil
	}

	result, err := c.ExecuteWithReflection(context.Background(), "code_writer", "write f", nil, exec)
	require.NoError(t, err)

	score := result["_reflection"].(*Score)
	assert.InDelta(t, 85.0, score.Overall, 1e-9)
	assert.Equal(t, 2, result["_reflection_attempts"])
	assert.Equal(t, true, result["_corrected"])
	assert.Equal(t, 2, execCalls)

	// The high-scoring solution was written back with its grade.
	assert.InDelta(t, 85.0, learner.savedQuality, 1e-9)
	assert.Equal(t, "mem-1", result["_memory_id"])
	require.Len(t, learner.outcomes, 1)
	assert.InDelta(t, 85.0, learner.outcomes[0], 1e-9)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	// Every evaluation stays poor; attempts stop at max_retries + 1.
	gen := &fakeGen{responses: []string{scorecard(30, 30, 30, "wrong approach", "missing tests", "third issue")}}
	learner := &fakeLearner{}
	c := newTestController(gen, learner)

	execCalls := 0
	exec := func(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
		execCalls++
		return map[string]interface{}{"code": "bad"}, nil
	}

	result, err := c.ExecuteWithReflection(context.Background(), "code_writer", "task", nil, exec)
	require.NoError(t, err)
	assert.Equal(t, 3, result["_reflection_attempts"], "max_retries=2 means 3 attempts")
	assert.Equal(t, 3, execCalls)

	// Final overall < 50: top-2 issues become error patterns.
	assert.Equal(t, []string{"wrong approach", "missing tests"}, learner.patterns)
}

func TestExecutionErrorPropagates(t *testing.T) {
	c := newTestController(&fakeGen{}, nil)
	_, err := c.ExecuteWithReflection(context.Background(), "code_writer", "task", nil,
		func(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
			return nil, fmt.Errorf("provider exploded")
		})
	assert.ErrorContains(t, err, "provider exploded")
}

func TestRepresentativeSlicePrefersKnownKeys(t *testing.T) {
	assert.Equal(t, "the code", representativeSlice(map[string]interface{}{"code": "the code", "other": 1}))
	assert.Equal(t, "the answer", representativeSlice(map[string]interface{}{"final_answer": "the answer"}))
	assert.Contains(t, representativeSlice(map[string]interface{}{"n": 42}), "42")
}
