// Package openai implements the provider client for OpenAI-compatible APIs
// on top of the official SDK.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/provider/registry"
)

// ProviderType is the registry key for this provider.
const ProviderType = "openai"

// RegisterFactory wires this provider into the registry. Call once from
// main or test setup.
func RegisterFactory() {
	if registry.IsRegistered(ProviderType) {
		return
	}
	registry.RegisterFactory(registry.ProviderFactory{
		Type:        ProviderType,
		Description: "OpenAI chat completions provider",
		Capabilities: domain.Capabilities{
			SupportsReasoning: true,
			SupportsStreaming: true,
			MaxTimeout:        120 * time.Second,
		},
		Create: func(cfg config.ProviderConfig) (registry.Client, error) {
			opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
			if cfg.BaseURL != "" {
				opts = append(opts, option.WithBaseURL(cfg.BaseURL))
			}
			return New(opts...), nil
		},
	})
}

// Client implements registry.Client using the OpenAI SDK.
type Client struct {
	client *openai.Client
}

// New creates an OpenAI client from SDK request options.
func New(options ...option.RequestOption) *Client {
	return &Client{client: openai.NewClient(options...)}
}

func (c *Client) Name() string {
	return ProviderType
}

func (c *Client) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	chat, err := c.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, normalizeError(err)
	}
	if len(chat.Choices) == 0 {
		return nil, domain.ErrProvider("openai returned no choices")
	}

	choice := chat.Choices[0]
	resp := &domain.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     int(chat.Usage.PromptTokens),
			CompletionTokens: int(chat.Usage.CompletionTokens),
			TotalTokens:      int(chat.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCallResult{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

func (c *Client) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
	strm := c.client.Chat.Completions.NewStreaming(ctx, buildParams(req))
	if strm.Err() != nil {
		err := normalizeError(strm.Err())
		strm.Close()
		return nil, err
	}

	out := make(chan domain.TokenEvent, 16)
	go func() {
		defer close(out)
		defer strm.Close()

		var acc openai.ChatCompletionAccumulator
		for strm.Next() {
			if ctx.Err() != nil {
				out <- domain.TokenEvent{Err: domain.ErrCancelled(ctx.Err().Error())}
				return
			}

			chunk := strm.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				evt := domain.TokenEvent{
					Role:         string(delta.Role),
					ContentDelta: delta.Content,
				}
				if len(delta.ToolCalls) > 0 {
					tc := delta.ToolCalls[0]
					evt.ToolCall = &domain.ToolCallChunk{
						Index: int(tc.Index),
						ID:    tc.ID,
						Type:  string(tc.Type),
					}
					evt.ToolCall.Function.Name = tc.Function.Name
					evt.ToolCall.Function.Arguments = tc.Function.Arguments
				}
				if evt.ContentDelta != "" || evt.ToolCall != nil || evt.Role != "" {
					out <- evt
				}
			}
		}
		if strm.Err() != nil {
			out <- domain.TokenEvent{Err: normalizeError(strm.Err())}
			return
		}

		finish := domain.TokenEvent{
			Usage: &domain.Usage{
				PromptTokens:     int(acc.Usage.PromptTokens),
				CompletionTokens: int(acc.Usage.CompletionTokens),
				TotalTokens:      int(acc.Usage.TotalTokens),
			},
		}
		if len(acc.Choices) > 0 {
			finish.FinishReason = string(acc.Choices[0].FinishReason)
		}
		out <- finish
	}()

	return out, nil
}

func buildParams(req *domain.CompletionRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "tool":
			msgs = append(msgs, openai.ToolMessage(m.ToolCallID, m.Content))
		case "assistant":
			if len(m.ToolCalls) > 0 {
				tcd := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					tcd[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   openai.String(tc.ID),
						Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
						Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      openai.String(tc.Name),
							Arguments: openai.String(tc.Arguments),
						}),
					}
				}
				msgs = append(msgs, openai.ChatCompletionMessageParam{
					Role:      openai.F(openai.ChatCompletionMessageParamRoleAssistant),
					ToolCalls: openai.F[any](tcd),
				})
			} else {
				msgs = append(msgs, openai.AssistantMessage(m.Content))
			}
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(req.Model),
		N:        openai.Int(1),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			def := openai.FunctionDefinitionParam{
				Name: openai.String(t.Function.Name),
			}
			if t.Function.Description != "" {
				def.Description = openai.String(t.Function.Description)
			}
			if params, ok := t.Function.Parameters.(map[string]any); ok {
				def.Parameters = openai.F(shared.FunctionParameters(params))
			}
			tools[i] = openai.ChatCompletionToolParam{
				Type:     openai.F(openai.ChatCompletionToolTypeFunction),
				Function: openai.F(def),
			}
		}
		params.Tools = openai.F(tools)
	}

	return params
}

// normalizeError maps SDK errors into the canonical taxonomy.
func normalizeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout("openai call exceeded its deadline").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrCancelled("openai call cancelled").WithCause(err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		ce := domain.ErrProvider(apierr.Message).WithCause(err).WithStatusCode(http.StatusBadGateway)
		if apierr.StatusCode == http.StatusTooManyRequests {
			ce.Code = domain.ErrorCodeRateLimited
		}
		return ce
	}
	return domain.ErrProvider(err.Error()).WithCause(err)
}
