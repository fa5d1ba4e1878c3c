package llms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

func newTestGateway(t *testing.T, fake *FakeProvider) *Gateway {
	t.Helper()
	g := &Gateway{
		registry:    NewRegistry(),
		configs:     map[string]*config.LLMProviderConfig{},
		defaultName: "fake",
		metrics:     metrics.New(),
	}
	require.NoError(t, g.registry.Register("fake", fake))
	return g
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name        string
		preferred   string
		recommended string
		fallbk      string
		want        string
	}{
		{"explicit wins", "gpt-4o", "llama3.2", "default", "gpt-4o"},
		{"auto falls to recommendation", "auto", "llama3.2", "default", "llama3.2"},
		{"auto with no recommendation", "auto", "", "default", "default"},
		{"empty preferred", "", "llama3.2", "default", "llama3.2"},
		{"all empty", "", "", "default", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveModel(tt.preferred, tt.recommended, tt.fallbk))
		})
	}
}

func TestGatewayGenerate(t *testing.T) {
	fake := NewFakeProvider("hello")
	g := newTestGateway(t, fake)

	resp, err := g.Generate(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, fake.CallCount())
}

func TestGatewayGenerateUnknownProvider(t *testing.T) {
	g := newTestGateway(t, NewFakeProvider("x"))

	_, err := g.Generate(context.Background(), &Request{}, CallOptions{Provider: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestGatewayStreamFallback(t *testing.T) {
	fake := NewFakeProvider("streamed text")
	fake.Streaming = false
	g := newTestGateway(t, fake)

	ch, err := g.Stream(context.Background(), &Request{}, CallOptions{})
	require.NoError(t, err)

	var text string
	var done bool
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			text += chunk.Text
		case ChunkDone:
			done = true
		}
	}
	assert.Equal(t, "streamed text", text)
	assert.True(t, done)
}

func TestGatewayListAvailableModels(t *testing.T) {
	g := newTestGateway(t, NewFakeProvider("x"))

	models := g.ListAvailableModels(context.Background())
	require.Contains(t, models, "fake")
	assert.Equal(t, []string{"fake-model"}, models["fake"])
}
