package domain

// StreamEventType discriminates wire-level stream events.
type StreamEventType string

const (
	StreamMetadata       StreamEventType = "metadata"
	StreamPromptStart    StreamEventType = "prompt_start"
	StreamToken          StreamEventType = "token"
	StreamPromptComplete StreamEventType = "prompt_complete"
	StreamPromptError    StreamEventType = "prompt_error"
	StreamComplete       StreamEventType = "complete"
	StreamError          StreamEventType = "error"
)

// StreamEvent is the wire-model union produced by the chain engine and
// consumed by the transport layer. Fields are populated per type; the JSON
// shape matches the push-stream protocol exactly.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// metadata
	TotalPrompts int    `json:"totalPrompts,omitempty"`
	ToolName     string `json:"toolName,omitempty"`

	// prompt_start / token / prompt_complete / prompt_error
	PromptIndex *int   `json:"promptIndex,omitempty"`
	PromptID    string `json:"promptId,omitempty"`
	ModelName   string `json:"modelName,omitempty"`
	Token       string `json:"token,omitempty"`
	Result      string `json:"result,omitempty"`

	// complete
	ExecutionID string `json:"executionId,omitempty"`

	// prompt_error / error
	Error string `json:"error,omitempty"`
}

// Index is a convenience for building the pointer-valued prompt index,
// which must serialize even when zero.
func Index(i int) *int {
	return &i
}
