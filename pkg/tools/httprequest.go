package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
)

// HTTPRequestTool issues one HTTP request on behalf of an agent. Bodies are
// capped at 1 MiB; responses are returned as text with the status line.
type HTTPRequestTool struct {
	client *http.Client
}

func NewHTTPRequestTool(cfg *config.ToolsConfig) *HTTPRequestTool {
	return &HTTPRequestTool{
		client: &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second},
	}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }

func (t *HTTPRequestTool) Description() string {
	return "Perform an HTTP request (GET, POST, PUT, DELETE) against a URL and return the response body."
}

func (t *HTTPRequestTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Target URL (http or https)",
			},
			"method": map[string]interface{}{
				"type":        "string",
				"description": "HTTP method, default GET",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Request body for POST/PUT",
			},
			"content_type": map[string]interface{}{
				"type":        "string",
				"description": "Content-Type header for the body",
			},
		},
		"required": []string{"url"},
	}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	target := stringArg(args, "url")
	if target == "" {
		return "", fmt.Errorf("[tools] http_request requires a url")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "", fmt.Errorf("[tools] http_request: unsupported URL scheme")
	}

	method := strings.ToUpper(stringArg(args, "method"))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead:
	default:
		return "", fmt.Errorf("[tools] http_request: unsupported method %q", method)
	}

	var body io.Reader
	if raw := stringArg(args, "body"); raw != "" {
		body = strings.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return "", fmt.Errorf("[tools] http_request: %w", err)
	}
	if ct := stringArg(args, "content_type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("[tools] http_request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("[tools] http_request: %w", err)
	}
	return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(payload)), nil
}
