package assembler

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/cache"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/embedders"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/metrics"
	"github.com/nestorlabs/nestor/pkg/vector"
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

func newTestConfig() *config.ContextConfig {
	cfg := &config.ContextConfig{}
	cfg.SetDefaults()
	return cfg
}

func newTestIndex() *vector.EmbeddingIndex {
	return &vector.EmbeddingIndex{Index: vector.NewMemoryIndex(), Embedder: embedders.NewFakeEmbedder(32)}
}

func TestGetContextRespectsBudget(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	cfg.Summarization.Enabled = config.BoolPtr(false)

	idx := newTestIndex()
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("snippet number %d %s", i, strings.Repeat("payload word ", 100))
		require.NoError(t, idx.UpsertText(ctx, "code", fmt.Sprintf("doc-%d", i), content, nil))
	}

	a := New(cfg, idx, "code", nil, nil)
	out, err := a.GetContext(ctx, "snippet payload", 300, false, false)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.LessOrEqual(t, EstimateTokens(out), 300)
}

func TestSummarizationPreservesDeclarations(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	cfg.MaxTokens = 4000
	cfg.Summarization.Threshold = 8000
	cfg.Summarization.Strategy = "hybrid"

	idx := newTestIndex()
	var wantDecls []string
	for i := 0; i < 50; i++ {
		decl := fmt.Sprintf("def handler_%d(request):", i)
		classDecl := fmt.Sprintf("class Processor%d:", i)
		wantDecls = append(wantDecls, decl, classDecl)
		content := decl + "\n    " + strings.Repeat("body detail ", 60) + "\n" +
			classDecl + "\n    " + strings.Repeat("more detail ", 60)
		require.NoError(t, idx.UpsertText(ctx, "code", fmt.Sprintf("doc-%d", i), content, nil))
	}
	cfg.TopK = 50

	// No LLM: hybrid summarization uses the deterministic extraction path.
	a := New(cfg, idx, "code", nil, nil)
	out, err := a.GetContext(ctx, "request handler processors", cfg.MaxTokens, false, false)
	require.NoError(t, err)

	assert.LessOrEqual(t, EstimateTokens(out), cfg.MaxTokens)
	for _, decl := range wantDecls {
		assert.Contains(t, out, decl)
	}
}

func TestGetContextCaches(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	idx := newTestIndex()
	require.NoError(t, idx.UpsertText(ctx, "code", "1", "cached snippet content", nil))

	cacheCfg := &config.CacheConfig{MaxEntries: 8, TTL: 60, Dir: t.TempDir()}
	cc, err := cache.New(cacheCfg, metrics.New())
	require.NoError(t, err)
	defer cc.Close()

	a := New(cfg, idx, "code", nil, cc)
	first, err := a.GetContext(ctx, "cached snippet", 1000, false, false)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// The index changes but the fingerprinted entry still serves.
	require.NoError(t, idx.Delete(ctx, "code", "1"))
	second, err := a.GetContext(ctx, "cached snippet", 1000, false, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A different budget is a different fingerprint.
	third, err := a.GetContext(ctx, "cached snippet", 999, false, false)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestQueryExpansionUnionsResults(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	idx := newTestIndex()
	require.NoError(t, idx.UpsertText(ctx, "code", "1", "parse configuration files", nil))
	require.NoError(t, idx.UpsertText(ctx, "code", "2", "load settings from yaml", nil))

	gen := &fakeGen{responses: []string{"load settings from yaml\nread config values"}}
	a := New(cfg, idx, "code", gen, nil)

	out, err := a.GetContext(ctx, "parse configuration files", 1000, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, out, "parse configuration files")
	assert.Contains(t, out, "load settings from yaml")
}

func TestExpansionFailureFallsBackToQuery(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	idx := newTestIndex()
	require.NoError(t, idx.UpsertText(ctx, "code", "1", "parse configuration files", nil))

	gen := &fakeGen{err: fmt.Errorf("model offline")}
	a := New(cfg, idx, "code", gen, nil)

	out, err := a.GetContext(ctx, "parse configuration files", 1000, true, true)
	require.NoError(t, err)
	assert.Contains(t, out, "parse configuration files")
}

func TestHistoryBounded(t *testing.T) {
	cfg := newTestConfig()
	cfg.HistoryLimit = 3
	a := New(cfg, newTestIndex(), "code", nil, nil)

	for i := 0; i < 5; i++ {
		a.AddToHistory("user", fmt.Sprintf("turn %d", i))
	}
	history := a.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, "turn 2", history[0].Content)
	assert.Equal(t, "turn 4", history[2].Content)

	recent := a.History(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "turn 4", recent[0].Content)

	a.ClearHistory()
	assert.Empty(t, a.History(0))
}

func TestTruncateClipsMultibyteAgainstEstimator(t *testing.T) {
	out := truncateToBudget([]string{strings.Repeat("日", 2000)}, 100)
	require.NotEmpty(t, out)
	assert.LessOrEqual(t, EstimateTokens(out), 100)

	// A snippet that fits passes through untouched.
	assert.Equal(t, "short", truncateToBudget([]string{"short"}, 100))
}

func TestExtractiveSummaryDeclarationsBounded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "def long_handler_%d(request, session, options, retries, flags):\n", i)
		b.WriteString(strings.Repeat("implementation detail prose line\n", 3))
	}
	out := extractiveSummary(b.String(), 100)
	assert.Contains(t, out, "def long_handler_0")
	assert.LessOrEqual(t, EstimateTokens(out), 100)
}

func TestExtractiveSummaryKeepsConstants(t *testing.T) {
	content := "MAX_RETRIES = 5\n" +
		strings.Repeat("filler prose line about implementation details\n", 200) +
		"def main():\n    run()"
	out := extractiveSummary(content, 100)
	assert.Contains(t, out, "MAX_RETRIES = 5")
	assert.Contains(t, out, "def main():")
	assert.LessOrEqual(t, EstimateTokens(out), 100)
}
