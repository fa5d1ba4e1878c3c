package llms

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls set on assistant messages that requested tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName set on tool-result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a provider-requested tool invocation.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool in the provider-neutral shape.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ThinkingBlock carries a model's reasoning trace when thinking mode is on.
type ThinkingBlock struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// Usage contains token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-neutral generation request. Zero-valued fields fall
// back to the provider's configured defaults.
type Request struct {
	Messages []Message

	// Model overrides the provider's default model.
	Model string

	Temperature *float64
	MaxTokens   int

	// Thinking requests a reasoning trace where the provider supports it.
	Thinking       bool
	ThinkingBudget int

	Tools []ToolDefinition

	// Structured constrains output to JSON (optionally schema-shaped).
	Structured *StructuredOutput
}

// StructuredOutput requests JSON output. Schema, when set, is a JSON-schema
// map; providers without native schema support fall back to prompting.
type StructuredOutput struct {
	Schema map[string]interface{}
}

// Response is a provider-neutral generation result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Thinking     *ThinkingBlock
	Usage        Usage
	Model        string
	FinishReason string
}

// StreamChunk is one unit of streamed output.
type StreamChunk struct {
	// Type is "text", "thinking", "tool_call", "done", or "error".
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

const (
	ChunkText     = "text"
	ChunkThinking = "thinking"
	ChunkToolCall = "tool_call"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// streamBufferSize bounds the chunk channel so slow consumers apply
// backpressure without stalling the HTTP read loop on every token.
const streamBufferSize = 100
