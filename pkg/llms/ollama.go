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

// OllamaProvider speaks the Ollama chat API. It is the default local
// provider and needs no API key.
type OllamaProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`

	// Format is "json" or a JSON-schema object for structured output.
	Format  interface{}    `json:"format,omitempty"`
	Options *ollamaOptions `json:"options,omitempty"`
	Tools   []ollamaTool   `json:"tools,omitempty"`
	Think   bool           `json:"think,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaToolFunc `json:"function"`
}

type ollamaToolFunc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunc `json:"function"`
}

type ollamaToolCallFunc struct {
	Index     int                    `json:"index,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProvider(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (p *OllamaProvider) Type() config.LLMProviderType { return config.ProviderOllama }
func (p *OllamaProvider) ModelName() string            { return p.config.Model }
func (p *OllamaProvider) SupportsStreaming() bool      { return true }
func (p *OllamaProvider) Close() error                 { return nil }

func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	body := p.buildRequest(req, false)

	raw, err := p.makeRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("Ollama API error: %s", raw.Error)
	}

	resp := &Response{
		Content:      raw.Message.Content,
		Model:        raw.Model,
		FinishReason: raw.DoneReason,
		Usage: Usage{
			PromptTokens:     raw.PromptEvalCount,
			CompletionTokens: raw.EvalCount,
			TotalTokens:      raw.PromptEvalCount + raw.EvalCount,
		},
	}
	if raw.Message.Thinking != "" {
		resp.Thinking = &ThinkingBlock{Content: raw.Message.Thinking}
	}
	for _, tc := range raw.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
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

func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list Ollama models: %w", err)
	}
	defer resp.Body.Close()

	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	models := make([]string, 0, len(listing.Models))
	for _, m := range listing.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// thinkingCapable reports whether a model family supports the think flag.
// Coder variants of the qwen families reject it despite the prefix match.
func thinkingCapable(model string) bool {
	lower := strings.ToLower(model)
	for _, excluded := range []string{"qwen3-coder", "qwen2-coder"} {
		if strings.Contains(lower, excluded) {
			return false
		}
	}
	for _, pattern := range []string{"qwen3", "deepseek-r1", "deepseek-v3", "gpt-oss"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func (p *OllamaProvider) buildRequest(req *Request, stream bool) ollamaRequest {
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

	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := ollamaMessage{
			Role:     string(m.Role),
			Content:  m.Content,
			ToolName: m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaToolCallFunc{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		messages = append(messages, msg)
	}

	body := ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options: &ollamaOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		},
	}
	if req.Thinking && thinkingCapable(model) {
		body.Think = true
	}
	if req.Structured != nil {
		if req.Structured.Schema != nil {
			body.Format = req.Structured.Schema
		} else {
			body.Format = "json"
		}
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunc{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return body
}

func (p *OllamaProvider) newHTTPRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) makeRequest(ctx context.Context, body ollamaRequest) (*ollamaResponse, error) {
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
		return nil, fmt.Errorf("Ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode Ollama response: %w", err)
	}
	return &parsed, nil
}

func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, body ollamaRequest, out chan<- StreamChunk) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := p.newHTTPRequest(ctx, payload)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Ollama streaming request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Ollama API returned status %d: %s", resp.StatusCode, string(raw))
	}

	// Ollama streams newline-delimited JSON objects. Tool calls may arrive
	// as partial argument maps and are merged by index until done.
	pendingTool := make(map[int]*ollamaToolCall)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("Ollama API error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			out <- StreamChunk{Type: ChunkText, Text: chunk.Message.Content}
		}
		if chunk.Message.Thinking != "" {
			out <- StreamChunk{Type: ChunkThinking, Text: chunk.Message.Thinking}
		}
		for i := range chunk.Message.ToolCalls {
			tc := chunk.Message.ToolCalls[i]
			idx := tc.Function.Index
			if existing, ok := pendingTool[idx]; ok {
				for k, v := range tc.Function.Arguments {
					existing.Function.Arguments[k] = v
				}
				continue
			}
			if tc.Function.Arguments == nil {
				tc.Function.Arguments = map[string]interface{}{}
			}
			pendingTool[idx] = &tc
		}

		if chunk.Done {
			for i := 0; i < len(pendingTool); i++ {
				if tc, ok := pendingTool[i]; ok {
					out <- StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					}}
				}
			}
			out <- StreamChunk{Type: ChunkDone, Tokens: chunk.PromptEvalCount + chunk.EvalCount}
			return nil
		}
	}
	out <- StreamChunk{Type: ChunkDone}
	return nil
}
