package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		DataDir:     t.TempDir(),
		VectorStore: config.VectorStoreConfig{Provider: "memory"},
	}
	_, err := config.Process(cfg)
	require.NoError(t, err)
	return cfg
}

func TestNewBuildsFullGraph(t *testing.T) {
	r, err := New(testConfig(t))
	require.NoError(t, err)
	defer r.Shutdown()

	assert.NotNil(t, r.Gateway)
	assert.NotNil(t, r.Memory, "memory enabled by default")
	assert.NotNil(t, r.Cache)
	assert.NotNil(t, r.Assembler)
	assert.NotNil(t, r.Validator)
	assert.NotNil(t, r.Sandbox)
	assert.NotNil(t, r.Orchestrator)
	assert.NotNil(t, r.Indexer)

	// The default team is fully constructed.
	assert.Len(t, r.Agents.AgentNames(), 7)

	names := r.Tools.Names()
	assert.Contains(t, names, "http_request")
	assert.Contains(t, names, "web_search")
}

func TestMemoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.Enabled = config.BoolPtr(false)

	r, err := New(cfg)
	require.NoError(t, err)
	defer r.Shutdown()
	assert.Nil(t, r.Memory)
}

func TestApplyConfigTunesAgents(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg)
	require.NoError(t, err)
	defer r.Shutdown()

	updated := *cfg
	updated.Agents = map[string]*config.AgentConfig{}
	for name, a := range cfg.Agents {
		cp := *a
		updated.Agents[name] = &cp
	}
	updated.Agents["code_writer"].Temperature = config.Float64Ptr(0.05)

	r.ApplyConfig(&updated)
	a, ok := r.Agents.Get("code_writer")
	require.True(t, ok)
	assert.Equal(t, 0.05, *a.Config().Temperature)
}

func TestStartAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.Interval = 1

	r, err := New(cfg)
	require.NoError(t, err)
	r.Start(context.Background())
	r.Shutdown()

	// Shutdown is idempotent.
	r.Shutdown()
}
