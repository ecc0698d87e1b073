// Package llm wraps a single provider call as either a one-shot completion
// or a token-streaming completion, normalizing failures into the canonical
// taxonomy. Retry policy belongs to callers; nothing here retries.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/provider"
	"github.com/calliope-ai/calliope/internal/tokens"
)

// maxToolRounds bounds tool-call round-trips inside Complete so a
// misbehaving model cannot loop forever.
const maxToolRounds = 5

var errInvalidJSON = errors.New("arguments are not valid JSON")

// Option configures a Client.
type Option func(*Client)

// WithTools attaches a tool set usable during completions.
func WithTools(ts *ToolSet) Option {
	return func(c *Client) {
		c.tools = ts
	}
}

// WithTokenCounter sets the registry used to estimate usage when a
// provider omits counts.
func WithTokenCounter(r *tokens.Registry) Option {
	return func(c *Client) {
		c.counter = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client executes completions against one resolved provider client.
type Client struct {
	provider provider.Client
	tools    *ToolSet
	counter  *tokens.Registry
	logger   *slog.Logger
}

// New creates a completion client over a resolved provider.
func New(p provider.Client, opts ...Option) *Client {
	c := &Client{
		provider: p,
		counter:  tokens.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs a one-shot completion, resolving up to maxToolRounds
// tool-call round-trips before returning the final text.
func (c *Client) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	working := *req
	if c.tools != nil && len(working.Tools) == 0 {
		working.Tools = c.tools.Definitions()
	}

	var total domain.Usage
	for round := 0; round <= maxToolRounds; round++ {
		resp, err := c.provider.Complete(ctx, &working)
		if err != nil {
			return nil, domain.AsCoreError(err)
		}

		total.PromptTokens += resp.Usage.PromptTokens
		total.CompletionTokens += resp.Usage.CompletionTokens
		total.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 || c.tools == nil {
			resp.Usage = total
			return resp, nil
		}

		// Feed the calls and their results back and go around again.
		working.Messages = append(working.Messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			out, err := c.tools.call(ctx, tc)
			if err != nil {
				return nil, domain.AsCoreError(err)
			}
			working.Messages = append(working.Messages, domain.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    out,
			})
		}
	}

	return nil, domain.ErrToolExecution("tool loop",
		errors.New("exceeded maximum tool round-trips")).
		WithCode(domain.ErrorCodeToolExecutionFailed)
}

// Stream runs a streaming completion. The returned channel delivers token
// deltas followed by exactly one terminal event: either an error event or a
// finish event carrying usage and finish reason. Usage is estimated from
// text when the provider omits it. The channel closes after the terminal
// event.
func (c *Client) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
	working := *req
	if c.tools != nil && len(working.Tools) == 0 {
		working.Tools = c.tools.Definitions()
	}

	upstream, err := c.provider.Stream(ctx, &working)
	if err != nil {
		return nil, domain.AsCoreError(err)
	}

	out := make(chan domain.TokenEvent, 16)
	go func() {
		defer close(out)

		var content strings.Builder
		var finish *domain.TokenEvent
		for evt := range upstream {
			if evt.Err != nil {
				out <- domain.TokenEvent{Err: domain.AsCoreError(evt.Err)}
				return
			}
			if evt.Usage != nil || evt.FinishReason != "" {
				e := evt
				finish = &e
				continue
			}
			if evt.ContentDelta != "" {
				content.WriteString(evt.ContentDelta)
			}
			out <- evt
		}

		if finish == nil {
			finish = &domain.TokenEvent{}
		}
		if finish.Usage == nil || finish.Usage.TotalTokens == 0 {
			usage := c.counter.EstimateUsage(working.Model, promptText(working.Messages), content.String())
			finish.Usage = &usage
		}
		if finish.FinishReason == "" {
			finish.FinishReason = "stop"
		}
		out <- *finish
	}()

	return out, nil
}

func promptText(msgs []domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
