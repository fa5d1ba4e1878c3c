package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/agent"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

// fakeLLM scripts gateway responses for both agents and the classifier.
type fakeLLM struct {
	mu     sync.Mutex
	script func(req *llms.Request) (*llms.Response, error)
	delay  time.Duration
	active int32
	peak   int32
}

func (f *fakeLLM) Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error) {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		old := atomic.LoadInt32(&f.peak)
		if cur <= old || atomic.CompareAndSwapInt32(&f.peak, old, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.script != nil {
		return f.script(req)
	}
	return &llms.Response{Content: "a perfectly adequate answer with enough length to matter", Model: "fake-model"}, nil
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

func agentCfg(agentType string) *config.AgentConfig {
	cfg := &config.AgentConfig{
		Type:       agentType,
		Reflection: &config.ReflectionConfig{Enabled: config.BoolPtr(false)},
	}
	cfg.SetDefaults()
	cfg.Reflection.Enabled = config.BoolPtr(false)
	return cfg
}

func newTestOrchestrator(t *testing.T, llm *fakeLLM, llmRouting bool, maxParallel int) *Orchestrator {
	t.Helper()
	reg, err := agent.NewRegistry(map[string]*config.AgentConfig{
		"code_writer": agentCfg("code_writer"),
		"research":    agentCfg("research"),
		"analyst":     agentCfg("data_analysis"),
	}, nil, agent.Deps{Gateway: llm, Metrics: metrics.New()})
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)

	cfg := &config.OrchestratorConfig{MaxParallelTasks: maxParallel, LLMRouting: config.BoolPtr(llmRouting)}
	cfg.SetDefaults()
	cfg.MaxParallelTasks = maxParallel
	cfg.LLMRouting = config.BoolPtr(llmRouting)

	var classifier Generator
	if llmRouting {
		classifier = llm
	}
	return New(cfg, reg, classifier)
}

func TestExecuteTaskExplicitAgent(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, false, 4)

	result, err := o.ExecuteTask(context.Background(), "summarize the design", "research", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
}

func TestExecuteTaskUnknownAgent(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, false, 4)
	_, err := o.ExecuteTask(context.Background(), "task", "ghost", nil)
	assert.ErrorContains(t, err, `unknown agent "ghost"`)
}

func TestExecuteTaskEmptyTask(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, false, 4)
	_, err := o.ExecuteTask(context.Background(), "   ", "research", nil)
	assert.ErrorContains(t, err, "task is empty")
}

func TestHeuristicRouting(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, false, 4)

	tests := []struct {
		task string
		want string
	}{
		{"write a function that reverses a slice", "code_writer"},
		{"find the latest kubernetes release notes", "research"},
		{"analyze churn in customers.csv", "analyst"},
		{"summarize this paragraph", "analyst"}, // no react registered; falls back to first name
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, o.heuristicRoute(tt.task), tt.task)
	}
}

func TestLLMRoutingUsed(t *testing.T) {
	llm := &fakeLLM{}
	llm.script = func(req *llms.Request) (*llms.Response, error) {
		if req.Structured != nil {
			return &llms.Response{Content: `{"agent": "analyst", "reason": "data work"}`, Model: "fake-model"}, nil
		}
		return &llms.Response{Content: "the analysis, at sufficient length to be a real answer here", Model: "fake-model"}, nil
	}
	o := newTestOrchestrator(t, llm, true, 4)

	result, err := o.ExecuteTask(context.Background(), "look at these numbers", "auto", nil)
	require.NoError(t, err)
	assert.Contains(t, result, "ml_task", "routed to the data_analysis variant")
}

func TestLLMRoutingFallsBackOnGarbage(t *testing.T) {
	llm := &fakeLLM{}
	llm.script = func(req *llms.Request) (*llms.Response, error) {
		if req.Structured != nil {
			return &llms.Response{Content: "no json here"}, nil
		}
		return &llms.Response{Content: "fallback answer long enough to be plausible for an agent", Model: "fake-model"}, nil
	}
	o := newTestOrchestrator(t, llm, true, 4)

	// Classifier output is unusable; keyword routing should still land this
	// on the code writer.
	result, err := o.ExecuteTask(context.Background(), "write a function to merge intervals in code", "", nil)
	require.NoError(t, err)
	assert.Contains(t, result, "code")
}

func TestLLMRoutingRejectsUnregisteredAgent(t *testing.T) {
	llm := &fakeLLM{}
	llm.script = func(req *llms.Request) (*llms.Response, error) {
		if req.Structured != nil {
			return &llms.Response{Content: `{"agent": "nonexistent"}`}, nil
		}
		return &llms.Response{Content: "answer of a reasonable length for the fallback path here", Model: "fake-model"}, nil
	}
	o := newTestOrchestrator(t, llm, true, 4)

	_, err := o.ExecuteTask(context.Background(), "find recent articles about sqlite", "", nil)
	require.NoError(t, err, "falls back to heuristic routing")
}

func TestBatchBoundedParallelism(t *testing.T) {
	llm := &fakeLLM{delay: 50 * time.Millisecond}
	o := newTestOrchestrator(t, llm, false, 2)

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{Task: fmt.Sprintf("summarize item %d", i), Agent: "research"}
	}
	results := o.ExecuteBatch(context.Background(), tasks)

	require.Len(t, results, 6)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotNil(t, r.Result)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&llm.peak), int32(2), "semaphore caps concurrent executions")
}

func TestBatchReportsPerTaskFailures(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, false, 4)

	results := o.ExecuteBatch(context.Background(), []Task{
		{Task: "summarize the schema", Agent: "research"},
		{Task: "task for nobody", Agent: "ghost"},
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "unknown agent")
}
