package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/httpclient"
)

// WebSearchTool queries a SearxNG-compatible JSON endpoint. Without a
// configured endpoint the tool reports itself unavailable instead of
// failing mid-task.
type WebSearchTool struct {
	endpoint string
	apiKey   string
	client   *httpclient.Client
	timeout  time.Duration
}

func NewWebSearchTool(cfg *config.ToolsConfig) *WebSearchTool {
	return &WebSearchTool{
		endpoint: cfg.WebSearch.Endpoint,
		apiKey:   cfg.WebSearch.APIKey,
		client:   httpclient.New(httpclient.WithMaxRetries(2)),
		timeout:  time.Duration(cfg.HTTPTimeout) * time.Second,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum results to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

// Available reports whether the tool has a usable endpoint.
func (t *WebSearchTool) Available() bool { return t.endpoint != "" }

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("[tools] web_search requires a query")
	}
	if !t.Available() {
		return "", fmt.Errorf("[tools] web_search has no endpoint configured")
	}

	maxResults := 5
	if n, ok := args["max_results"].(float64); ok && n > 0 {
		maxResults = int(n)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	u := strings.TrimRight(t.endpoint, "/") + "/search?q=" + url.QueryEscape(query) + "&format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("[tools] web_search: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("[tools] web_search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("[tools] web_search: endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("[tools] web_search: %w", err)
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("[tools] web_search: unparseable response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range parsed.Results {
		if i >= maxResults {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Content)
	}
	return b.String(), nil
}
