package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/merge"
)

// CompareTarget names one side of a comparison.
type CompareTarget struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// CompareRequest runs one prompt against two models concurrently.
type CompareRequest struct {
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Targets []CompareTarget `json:"targets"`
}

// Compare streams both models' tokens over one SSE connection as they
// arrive, each frame tagged with its model. One model failing does not stop
// the other.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Prompt == "" {
		writeError(w, domain.ErrValidation("prompt is required"))
		return
	}
	if len(req.Targets) != 2 {
		writeError(w, domain.ErrValidation("exactly two targets are required"))
		return
	}

	user := userID(r)
	if err := h.limiter.Acquire(user); err != nil {
		writeError(w, err)
		return
	}
	defer h.limiter.Release(user)

	sources := make([]merge.Source, 2)
	for i, target := range req.Targets {
		client, caps, err := h.registry.Resolve(target.Provider, target.Model)
		if err != nil {
			writeError(w, err)
			return
		}
		if !caps.SupportsStreaming {
			writeError(w, domain.ErrValidation(fmt.Sprintf("provider %s does not support streaming", target.Provider)))
			return
		}
		model := target.Model
		if model == "" {
			model = h.registry.Model(target.Provider)
		}
		creq := &domain.CompletionRequest{
			Model:    model,
			Messages: compareMessages(req.System, req.Prompt),
		}
		if caps.DefaultMaxTokens > 0 {
			creq.MaxTokens = caps.DefaultMaxTokens
		}
		sources[i] = merge.Source{
			ModelID: model,
			Start: func(ctx context.Context) (<-chan domain.TokenEvent, error) {
				return client.Stream(ctx, creq)
			},
		}
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	events := merge.Run(r.Context(), sources[0], sources[1])
	for evt := range events {
		if err := sse.send(evt); err != nil {
			// Context cancellation unwinds the pumps; drain so they exit.
			for range events {
			}
			return
		}
	}
}

func compareMessages(system, prompt string) []domain.Message {
	var msgs []domain.Message
	if system != "" {
		msgs = append(msgs, domain.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: prompt})
	return msgs
}
