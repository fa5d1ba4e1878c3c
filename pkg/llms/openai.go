package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/httpclient"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// OpenAIProvider speaks the OpenAI chat completions API over raw HTTP.
type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type openAIRequest struct {
	Model          string           `json:"model"`
	Messages       []openAIMessage  `json:"messages"`
	Temperature    *float64         `json:"temperature,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Stream         bool             `json:"stream"`
	Tools          []openAITool     `json:"tools,omitempty"`
	ResponseFormat *openAIRespFmt   `json:"response_format,omitempty"`
	StreamOptions  *openAIStreamOpt `json:"stream_options,omitempty"`
}

type openAIStreamOpt struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRespFmt struct {
	Type       string                 `json:"type"`
	JSONSchema map[string]interface{} `json:"json_schema,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIToolFuncDef `json:"function"`
}

type openAIToolFuncDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolCallFunc `json:"function"`
}

type openAIToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	Delta        openAIMessage `json:"delta"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIProvider(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	return &OpenAIProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (p *OpenAIProvider) Type() config.LLMProviderType { return config.ProviderOpenAI }
func (p *OpenAIProvider) ModelName() string            { return p.config.Model }
func (p *OpenAIProvider) SupportsStreaming() bool      { return true }
func (p *OpenAIProvider) Close() error                 { return nil }

func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	body := p.buildRequest(req, false)

	raw, err := p.makeRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", raw.Error.Message)
	}
	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := raw.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    convertOpenAIToolCalls(choice.Message.ToolCalls),
		Model:        raw.Model,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
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

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list OpenAI models: %w", err)
	}
	defer resp.Body.Close()

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	models := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (p *OpenAIProvider) buildRequest(req *Request, stream bool) openAIRequest {
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

	body := openAIRequest{
		Model:       model,
		Messages:    convertToOpenAIMessages(req.Messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &openAIStreamOpt{IncludeUsage: true}
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIToolFuncDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.Structured != nil {
		if req.Structured.Schema != nil {
			body.ResponseFormat = &openAIRespFmt{
				Type: "json_schema",
				JSONSchema: map[string]interface{}{
					"name":   "response",
					"schema": req.Structured.Schema,
					"strict": true,
				},
			}
		} else {
			body.ResponseFormat = &openAIRespFmt{Type: "json_object"}
		}
	}
	return body
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, body openAIRequest) (*openAIResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI request failed: %w", err)
	}
	defer resp.Body.Close()

	var raw openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode OpenAI response: %w", err)
	}
	return &raw, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, body openAIRequest, out chan<- StreamChunk) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("OpenAI streaming request failed: %w", err)
	}
	defer resp.Body.Close()

	log := logger.Component("llm.openai")

	// Partial tool calls accumulate across deltas keyed by choice index.
	pendingTool := make(map[int]*openAIToolCall)
	totalTokens := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Usage.TotalTokens > 0 {
			totalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			out <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}
		}
		for i := range choice.Delta.ToolCalls {
			tc := choice.Delta.ToolCalls[i]
			pending, ok := pendingTool[choice.Index]
			if !ok || tc.ID != "" {
				cp := tc
				pendingTool[choice.Index] = &cp
				continue
			}
			pending.Function.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			for _, tc := range pendingTool {
				converted := convertOpenAIToolCalls([]openAIToolCall{*tc})
				if len(converted) == 1 {
					out <- StreamChunk{Type: ChunkToolCall, ToolCall: &converted[0]}
				}
			}
			pendingTool = make(map[int]*openAIToolCall)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}

	out <- StreamChunk{Type: ChunkDone, Tokens: totalTokens}
	return nil
}

func convertToOpenAIMessages(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		msg := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIToolCallFunc{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertOpenAIToolCalls(calls []openAIToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{"_raw": tc.Function.Arguments}
			}
		}
		out = append(out, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}
