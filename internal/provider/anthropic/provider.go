// Package anthropic implements the provider client for the Anthropic
// Messages API with a hand-rolled HTTP+SSE client.
package anthropic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/provider/registry"
)

// ProviderType is the registry key for this provider.
const ProviderType = "anthropic"

const defaultMaxTokens = 4096

// RegisterFactory wires this provider into the registry. Call once from
// main or test setup.
func RegisterFactory() {
	if registry.IsRegistered(ProviderType) {
		return
	}
	registry.RegisterFactory(registry.ProviderFactory{
		Type:        ProviderType,
		Description: "Anthropic Messages API provider",
		Capabilities: domain.Capabilities{
			SupportsReasoning: true,
			SupportsThinking:  true,
			SupportsStreaming: true,
			MaxTimeout:        180 * time.Second,
			DefaultMaxTokens:  defaultMaxTokens,
		},
		Create: func(cfg config.ProviderConfig) (registry.Client, error) {
			var opts []ClientOption
			if cfg.BaseURL != "" {
				opts = append(opts, WithBaseURL(cfg.BaseURL))
			}
			return New(cfg.APIKey, opts...), nil
		},
	})
}

// Client implements registry.Client against the Anthropic Messages API.
type Client struct {
	api *apiClient
}

// New creates an Anthropic client.
func New(apiKey string, opts ...ClientOption) *Client {
	return &Client{api: newAPIClient(apiKey, opts...)}
}

func (c *Client) Name() string {
	return ProviderType
}

func (c *Client) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	resp, err := c.api.createMessage(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}

	out := &domain.CompletionResponse{
		FinishReason: resp.StopReason,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, part := range resp.Content {
		switch part.Type {
		case "text":
			out.Content += part.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, domain.ToolCallResult{
				ID:        part.ID,
				Name:      part.Name,
				Arguments: string(part.Input),
			})
		}
	}
	return out, nil
}

func (c *Client) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
	events, err := c.api.streamMessage(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.TokenEvent, 16)
	go func() {
		defer close(out)

		var usage domain.Usage
		var stopReason string
		for evt := range events {
			if evt.err != nil {
				out <- domain.TokenEvent{Err: evt.err}
				return
			}

			switch evt.eventType {
			case "message_start":
				var ms struct {
					Message struct {
						Usage wireUsage `json:"usage"`
					} `json:"message"`
				}
				if json.Unmarshal(evt.data, &ms) == nil {
					usage.PromptTokens = ms.Message.Usage.InputTokens
				}
			case "content_block_delta":
				var delta struct {
					Delta struct {
						Type string `json:"type"`
						Text string `json:"text"`
					} `json:"delta"`
				}
				if json.Unmarshal(evt.data, &delta) == nil && delta.Delta.Text != "" {
					out <- domain.TokenEvent{Role: "assistant", ContentDelta: delta.Delta.Text}
				}
			case "message_delta":
				var md struct {
					Delta struct {
						StopReason string `json:"stop_reason"`
					} `json:"delta"`
					Usage wireUsage `json:"usage"`
				}
				if json.Unmarshal(evt.data, &md) == nil {
					stopReason = md.Delta.StopReason
					usage.CompletionTokens = md.Usage.OutputTokens
				}
			case "error":
				var er errorResponse
				if json.Unmarshal(evt.data, &er) == nil && er.Error.Message != "" {
					out <- domain.TokenEvent{Err: domain.ErrProvider(er.Error.Message)}
					return
				}
			}
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		out <- domain.TokenEvent{Usage: &usage, FinishReason: stopReason}
	}()

	return out, nil
}

func buildRequest(req *domain.CompletionRequest) *messagesRequest {
	wire := &messagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if wire.MaxTokens == 0 {
		wire.MaxTokens = defaultMaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		wire.Temperature = &t
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content
		case "tool":
			wire.Messages = append(wire.Messages, wireMessage{
				Role: "user",
				Content: []contentPart{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case "assistant":
			msg := wireMessage{Role: "assistant"}
			if m.Content != "" {
				msg.Content = append(msg.Content, contentPart{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				msg.Content = append(msg.Content, contentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(tc.Arguments),
				})
			}
			wire.Messages = append(wire.Messages, msg)
		default:
			wire.Messages = append(wire.Messages, wireMessage{
				Role:    "user",
				Content: []contentPart{{Type: "text", Text: m.Content}},
			})
		}
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return wire
}
