package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/memory"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

// fakeLLM satisfies the LLM interface with scripted responses. The last
// response repeats when the script runs out.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	script    func(req *llms.Request) (*llms.Response, error)
	err       error
	calls     []*llms.Request
	next      int
}

func (f *fakeLLM) Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.script != nil {
		return f.script(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("no scripted responses")
	}
	resp := &llms.Response{Content: f.responses[f.next], Model: "fake-model"}
	if f.next < len(f.responses)-1 {
		f.next++
	}
	return resp, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req *llms.Request, opts llms.CallOptions) (<-chan llms.StreamChunk, error) {
	resp, err := f.Generate(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	out := make(chan llms.StreamChunk, 2)
	out <- llms.StreamChunk{Type: llms.ChunkText, Text: resp.Content}
	out <- llms.StreamChunk{Type: llms.ChunkDone}
	close(out)
	return out, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testAgentConfig builds a config with reflection off so pipeline tests
// exercise one concern at a time.
func testAgentConfig(agentType string) *config.AgentConfig {
	cfg := &config.AgentConfig{
		Type:       agentType,
		Reflection: &config.ReflectionConfig{Enabled: config.BoolPtr(false)},
	}
	cfg.SetDefaults()
	cfg.Reflection.Enabled = config.BoolPtr(false)
	return cfg
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	cfg := &config.MemoryConfig{Path: filepath.Join(t.TempDir(), "agent_memory.db")}
	cfg.SetDefaults()
	store, err := memory.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New("x", testAgentConfig("teleporter"), Deps{Gateway: &fakeLLM{}})
	assert.ErrorContains(t, err, "unknown type")
}

func TestExecuteSetsExecutionTime(t *testing.T) {
	llm := &fakeLLM{responses: []string{strings.Repeat("finding ", 20)}}
	a, err := New("research", testAgentConfig("research"), Deps{Gateway: llm, Metrics: metrics.New()})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), "summarize the module layout", nil)
	require.NoError(t, err)
	assert.True(t, result["success"].(bool))
	assert.Contains(t, result, "_execution_time")
	assert.GreaterOrEqual(t, result["_execution_time"].(float64), 0.0)
}

func TestExecuteWritesSolutionToMemory(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{responses: []string{strings.Repeat("the answer is thorough ", 10)}}
	a, err := New("research", testAgentConfig("research"), Deps{Gateway: llm, Memory: store, Metrics: metrics.New()})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), "explain connection pooling", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result["_memory_id"])

	hits := store.SearchSimilarTasks(context.Background(), "explain connection pooling", 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "research", hits[0].Agent)
}

func TestExecuteShortSolutionNotStored(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{responses: []string{"ok"}}
	a, err := New("research", testAgentConfig("research"), Deps{Gateway: llm, Memory: store, Metrics: metrics.New()})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), "ack", nil)
	require.NoError(t, err)
	assert.Nil(t, result["_memory_id"])
}

func TestExecuteFailureRecordedAndWrapped(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{err: fmt.Errorf("provider melted down")}
	a, err := New("research", testAgentConfig("research"), Deps{Gateway: llm, Memory: store, Metrics: metrics.New()})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "lookup deployment history for the cluster", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[agent:research]")

	warning := store.ErrorAvoidancePrompt(context.Background(), "lookup deployment history for the cluster", "research")
	assert.Contains(t, warning, "provider melted down")
}

func TestExecuteFailureCountsAgainstModel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := testAgentConfig("research")
	cfg.Model = "llama3.1:8b"
	llm := &fakeLLM{err: fmt.Errorf("provider melted down")}
	a, err := New("research", cfg, Deps{Gateway: llm, Memory: store, Metrics: metrics.New()})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = a.Execute(ctx, "investigate the outage", nil)
		require.Error(t, err)
	}

	stat := store.BestModelForTaskType(ctx, "research")
	require.NotNil(t, stat)
	assert.Equal(t, "llama3.1:8b", stat.Model)
	assert.Equal(t, 3, stat.Samples)
	assert.Zero(t, stat.SuccessRate)
}

func TestModelRecommendationConsulted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		store.RecordModelResult(ctx, "qwen2.5-coder:14b", "research", true, 85, 0)
	}

	llm := &fakeLLM{responses: []string{strings.Repeat("long enough answer ", 5)}}
	a, err := New("research", testAgentConfig("research"), Deps{Gateway: llm, Memory: store, Metrics: metrics.New()})
	require.NoError(t, err)

	execCtx := map[string]interface{}{}
	_, err = a.Execute(ctx, "investigate", execCtx)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder:14b", execCtx["_memory_recommended_model"])

	// An explicit preference wins over the recommendation.
	execCtx = map[string]interface{}{"preferred_model": "llama3.1:8b"}
	_, err = a.Execute(ctx, "investigate again", execCtx)
	require.NoError(t, err)
	assert.Nil(t, execCtx["_memory_recommended_model"])
}

func TestExecuteStreamFallsBackToSingleChunk(t *testing.T) {
	llm := &fakeLLM{responses: []string{"streamed answer"}}
	a, err := New("research", testAgentConfig("research"), Deps{Gateway: llm, Metrics: metrics.New()})
	require.NoError(t, err)

	ch, err := a.ExecuteStream(context.Background(), "anything", nil)
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		if chunk.Type == llms.ChunkText {
			text += chunk.Text
		}
	}
	assert.Equal(t, "streamed answer", text)
}

func TestCapabilitiesExtendedFromConfig(t *testing.T) {
	cfg := testAgentConfig("research")
	cfg.Capabilities = []string{"verification", "not-a-real-one"}
	a, err := New("research", cfg, Deps{Gateway: &fakeLLM{}, Metrics: metrics.New()})
	require.NoError(t, err)

	assert.True(t, a.Capabilities().Has(capability.Verification))
	assert.True(t, a.Capabilities().Has(capability.Research))
	assert.Len(t, a.Capabilities(), 3)
}
