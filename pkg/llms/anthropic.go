package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/httpclient"
)

// AnthropicProvider speaks the Anthropic messages API over raw HTTP.
type AnthropicProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type anthropicContent struct {
	Type      string                  `json:"type"`
	Text      string                  `json:"text,omitempty"`
	Thinking  string                  `json:"thinking,omitempty"`
	Signature string                  `json:"signature,omitempty"`
	ID        string                  `json:"id,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Input     *map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                  `json:"tool_use_id,omitempty"`
	Content   string                  `json:"content,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (p *AnthropicProvider) Type() config.LLMProviderType { return config.ProviderAnthropic }
func (p *AnthropicProvider) ModelName() string            { return p.config.Model }
func (p *AnthropicProvider) SupportsStreaming() bool      { return true }
func (p *AnthropicProvider) Close() error                 { return nil }

func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	body := p.buildRequest(req, false)

	raw, err := p.makeRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("Anthropic API error: %s", raw.Error.Message)
	}

	resp := &Response{
		Model:        raw.Model,
		FinishReason: raw.StopReason,
		Usage: Usage{
			PromptTokens:     raw.Usage.InputTokens,
			CompletionTokens: raw.Usage.OutputTokens,
			TotalTokens:      raw.Usage.InputTokens + raw.Usage.OutputTokens,
		},
	}
	for _, content := range raw.Content {
		switch content.Type {
		case "text":
			resp.Content += content.Text
		case "thinking":
			resp.Thinking = &ThinkingBlock{
				Content:   content.Thinking,
				Signature: content.Signature,
			}
		case "tool_use":
			args := map[string]interface{}{}
			if content.Input != nil {
				args = *content.Input
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: args,
			})
		}
	}

	// Prompt-based structured output: Anthropic responds after a "{" prefill,
	// so the brace must be restored on the way out.
	if req.Structured != nil && !strings.HasPrefix(strings.TrimSpace(resp.Content), "{") {
		resp.Content = "{" + resp.Content
	}
	return resp, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	body := p.buildRequest(req, true)

	out := make(chan StreamChunk, streamBufferSize)
	go func() {
		defer close(out)
		if err := p.makeStreamingRequest(ctx, body, out); err != nil {
			out <- StreamChunk{Type: ChunkError, Error: err}
		}
	}()
	return out, nil
}

// ListModels returns the configured model: Anthropic's model listing needs
// a different endpoint version and the gateway only needs a liveness probe.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.config.Model}, nil
}

func (p *AnthropicProvider) buildRequest(req *Request, stream bool) anthropicRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	var systemParts []string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
		case RoleUser:
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		case RoleTool:
			messages = append(messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case RoleAssistant:
			var contents []anthropicContent
			if m.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				contents = append(contents, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: &input,
				})
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: contents})
		}
	}

	if req.Structured != nil {
		systemParts = append(systemParts, structuredOutputInstruction(req.Structured.Schema))
		// Prefill nudges the model straight into JSON.
		messages = append(messages, anthropicMessage{Role: "assistant", Content: "{"})
	}

	body := anthropicRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
		System:      strings.Join(systemParts, "\n\n"),
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	if req.Thinking {
		budget := req.ThinkingBudget
		if budget == 0 && p.config.Thinking != nil {
			budget = p.config.Thinking.BudgetTokens
		}
		if budget == 0 {
			budget = 1024
		}
		body.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		// The API rejects explicit temperature together with thinking.
		body.Temperature = nil
	}
	return body
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, body anthropicRequest) (*anthropicResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := p.newHTTPRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Anthropic API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode Anthropic response: %w", err)
	}
	return &parsed, nil
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, body anthropicRequest, out chan<- StreamChunk) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := p.newHTTPRequest(ctx, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Anthropic streaming request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Anthropic API returned status %d: %s", resp.StatusCode, string(raw))
	}

	// Tool-use blocks stream their input as partial JSON per block index.
	pendingTool := make(map[int]*ToolCall)
	pendingJSON := make(map[int]string)
	totalTokens := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return fmt.Errorf("failed to decode stream event: %w", err)
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				pendingTool[event.Index] = &ToolCall{
					ID:        event.ContentBlock.ID,
					Name:      event.ContentBlock.Name,
					Arguments: map[string]interface{}{},
				}
				pendingJSON[event.Index] = ""
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			if event.Delta.Text != "" {
				out <- StreamChunk{Type: ChunkText, Text: event.Delta.Text}
			}
			if event.Delta.Thinking != "" {
				out <- StreamChunk{Type: ChunkThinking, Text: event.Delta.Thinking}
			}
			if event.Delta.Type == "input_json_delta" && event.Delta.PartialJSON != "" {
				pendingJSON[event.Index] += event.Delta.PartialJSON
			}
		case "content_block_stop":
			tc, ok := pendingTool[event.Index]
			if !ok {
				continue
			}
			if jsonStr := pendingJSON[event.Index]; jsonStr != "" {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(jsonStr), &args); err == nil {
					tc.Arguments = args
				}
			}
			out <- StreamChunk{Type: ChunkToolCall, ToolCall: tc}
			delete(pendingTool, event.Index)
			delete(pendingJSON, event.Index)
		case "message_delta":
			if event.Usage != nil {
				totalTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			out <- StreamChunk{Type: ChunkDone, Tokens: totalTokens}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}

	out <- StreamChunk{Type: ChunkDone, Tokens: totalTokens}
	return nil
}

// structuredOutputInstruction is the prompt fallback for providers without
// native schema-constrained decoding.
func structuredOutputInstruction(schema map[string]interface{}) string {
	if schema == nil {
		return "You must respond with valid JSON only, no surrounding text."
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "You must respond with valid JSON only, no surrounding text."
	}
	return fmt.Sprintf(`You must respond with valid JSON matching this exact schema:

%s

Important:
- Output ONLY valid JSON, no other text
- All required fields must be present
- Use correct data types for each field`, string(schemaJSON))
}
