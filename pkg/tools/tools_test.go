package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
)

func testToolsConfig() *config.ToolsConfig {
	cfg := &config.ToolsConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDefaults(testToolsConfig()))

	assert.Equal(t, []string{"http_request", "web_search"}, r.Names())
	defs := r.Definitions()
	require.Len(t, defs, 2)
	for _, def := range defs {
		assert.NotEmpty(t, def.Description)
		assert.Equal(t, "object", def.Parameters["type"])
	}
}

func TestHTTPRequestTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tool := NewHTTPRequestTool(testToolsConfig())
	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"url":    srv.URL,
		"method": "POST",
		"body":   `{"a":1}`,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "HTTP 201")
	assert.Contains(t, out, `{"ok":true}`)
}

func TestHTTPRequestToolRejectsBadInput(t *testing.T) {
	tool := NewHTTPRequestTool(testToolsConfig())

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.ErrorContains(t, err, "requires a url")

	_, err = tool.Execute(context.Background(), map[string]interface{}{"url": "ftp://host/file"})
	assert.ErrorContains(t, err, "scheme")

	_, err = tool.Execute(context.Background(), map[string]interface{}{"url": "http://host", "method": "TRACE"})
	assert.ErrorContains(t, err, "unsupported method")
}

func TestWebSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang generics", r.URL.Query().Get("q"))
		w.Write([]byte(`{"results":[
			{"title":"Go Generics","url":"https://go.dev/doc","content":"Type parameters."},
			{"title":"Tutorial","url":"https://example.com","content":"Intro."}
		]}`))
	}))
	defer srv.Close()

	cfg := testToolsConfig()
	cfg.WebSearch.Endpoint = srv.URL
	tool := NewWebSearchTool(cfg)
	require.True(t, tool.Available())

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":       "golang generics",
		"max_results": float64(1),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Go Generics")
	assert.Contains(t, out, "https://go.dev/doc")
	assert.NotContains(t, out, "Tutorial")
}

func TestWebSearchToolUnconfigured(t *testing.T) {
	tool := NewWebSearchTool(testToolsConfig())
	assert.False(t, tool.Available())
	_, err := tool.Execute(context.Background(), map[string]interface{}{"query": "x"})
	assert.ErrorContains(t, err, "no endpoint")
}
