package domain

import "time"

// Message represents a chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`

	// ToolCallID links a role:"tool" message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls carries the calls issued by a role:"assistant" message.
	ToolCalls []ToolCallResult `json:"tool_calls,omitempty"`
}

// ToolDefinition represents a tool that the model can call.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes the function signature.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"` // JSON Schema
}

// Usage represents token usage for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Capabilities describes what a provider/model pairing can do.
// Looked up independently of client construction so callers can make
// scheduling decisions before paying for a client.
type Capabilities struct {
	SupportsReasoning  bool          `json:"supports_reasoning"`
	SupportsThinking   bool          `json:"supports_thinking"`
	SupportsStreaming  bool          `json:"supports_streaming"`
	MaxTimeout         time.Duration `json:"max_timeout"`
	DefaultMaxTokens   int           `json:"default_max_tokens,omitempty"`
}

// CompletionRequest is the canonical request passed to a provider client.
type CompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// ToolCallResult is a fully-assembled tool call from a completed response.
type ToolCallResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionResponse is the canonical non-streaming provider response.
type CompletionResponse struct {
	Content      string           `json:"content"`
	ToolCalls    []ToolCallResult `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason"`
	Usage        Usage            `json:"usage"`
}

// ToolCallChunk represents a partial tool invocation inside a stream.
type ToolCallChunk struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

// TokenEvent is one event on a provider token stream.
// The channel carrying TokenEvents MUST be closed by the producer when done.
type TokenEvent struct {
	Role         string         // e.g. "assistant"
	ContentDelta string         // the text fragment
	ToolCall     *ToolCallChunk // partial tool invocation data
	Usage        *Usage         // final event often carries token counts
	FinishReason string         // set on the terminal event
	Err          error          // in-stream errors
}
