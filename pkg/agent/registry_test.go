package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

func newTestRegistry(t *testing.T, llm LLM) *AgentRegistry {
	t.Helper()
	cfgs := map[string]*config.AgentConfig{
		"code_writer": testAgentConfig("code_writer"),
		"research":    testAgentConfig("research"),
	}
	r, err := NewRegistry(cfgs, nil, Deps{Gateway: llm, Metrics: metrics.New()})
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegistryBuildsEnabledAgents(t *testing.T) {
	cfgs := map[string]*config.AgentConfig{
		"research": testAgentConfig("research"),
		"disabled": testAgentConfig("react"),
	}
	cfgs["disabled"].Enabled = config.BoolPtr(false)

	r, err := NewRegistry(cfgs, nil, Deps{Gateway: &fakeLLM{}, Metrics: metrics.New()})
	require.NoError(t, err)
	defer r.Shutdown()

	assert.Equal(t, []string{"research"}, r.AgentNames())
	_, ok := r.Get("disabled")
	assert.False(t, ok)
}

func TestRegistryRejectsEmptyTeam(t *testing.T) {
	cfg := testAgentConfig("research")
	cfg.Enabled = config.BoolPtr(false)
	_, err := NewRegistry(map[string]*config.AgentConfig{"research": cfg}, nil, Deps{Gateway: &fakeLLM{}})
	assert.ErrorContains(t, err, "no agents enabled")
}

func TestCapabilityIndex(t *testing.T) {
	r := newTestRegistry(t, &fakeLLM{})

	assert.Equal(t, []string{"code_writer"}, r.AgentsWithCapability(capability.CodeGeneration))
	assert.Equal(t, []string{"research"}, r.AgentsWithCapability(capability.WebSearch))
	assert.Empty(t, r.AgentsWithCapability(capability.Monitoring))
}

func TestDelegationThroughRealAgents(t *testing.T) {
	llm := &fakeLLM{responses: []string{strings.Repeat("delegated findings ", 5)}}
	r := newTestRegistry(t, llm)

	dr := r.Mediator().DelegateSubtask(context.Background(), "code_writer", "research",
		"look up the sqlite locking model", nil, 0, 5*time.Second)

	require.True(t, dr.Success, "error: %s", dr.Error)
	assert.Contains(t, dr.Result["report"], "delegated findings")
	assert.Contains(t, dr.Result, "_execution_time")
}

func TestUpdateConfigTunesInPlace(t *testing.T) {
	r := newTestRegistry(t, &fakeLLM{})

	newCfgs := map[string]*config.AgentConfig{
		"code_writer": {Type: "code_writer", Temperature: config.Float64Ptr(0.1), MaxIterations: 4},
		"research":    testAgentConfig("research"),
	}
	changes := r.UpdateConfig(newCfgs)

	assert.Contains(t, changes, "updated code_writer temperature")
	assert.Contains(t, changes, "updated code_writer max_iterations")
	a, _ := r.Get("code_writer")
	assert.Equal(t, 0.1, *a.Config().Temperature)
	assert.Equal(t, 4, a.Config().MaxIterations)
}

func TestUpdateConfigAddsAndRemoves(t *testing.T) {
	r := newTestRegistry(t, &fakeLLM{})

	newCfgs := map[string]*config.AgentConfig{
		"research": testAgentConfig("research"),
		"monitor":  testAgentConfig("monitoring"),
	}
	changes := r.UpdateConfig(newCfgs)

	assert.Contains(t, changes, "added monitor")
	assert.Contains(t, changes, "removed code_writer")
	assert.Equal(t, []string{"monitor", "research"}, r.AgentNames())
	assert.Equal(t, []string{"monitor"}, r.AgentsWithCapability(capability.Monitoring),
		"capability index rebuilt after reload")
}

func TestUpdateConfigIgnoresTypeChange(t *testing.T) {
	r := newTestRegistry(t, &fakeLLM{})

	changes := r.UpdateConfig(map[string]*config.AgentConfig{
		"code_writer": {Type: "react"},
		"research":    testAgentConfig("research"),
	})
	assert.Contains(t, changes, "ignored type change for code_writer (restart required)")
	a, _ := r.Get("code_writer")
	assert.Equal(t, "code_writer", a.Config().Type)
}

func TestShutdownStopsBus(t *testing.T) {
	llm := &fakeLLM{responses: []string{"late"}}
	cfgs := map[string]*config.AgentConfig{"research": testAgentConfig("research")}
	r, err := NewRegistry(cfgs, nil, Deps{Gateway: llm, Metrics: metrics.New()})
	require.NoError(t, err)

	r.Shutdown()
	dr := r.Mediator().DelegateSubtask(context.Background(), "x", "research", "task", nil, 0, time.Second)
	assert.False(t, dr.Success)
	assert.Contains(t, dr.Error, "shut down")
}
