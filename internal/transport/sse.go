package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/calliope-ai/calliope/internal/chain"
	"github.com/calliope-ai/calliope/internal/domain"
)

// ChainRequest is the body for both streaming and polling chain execution.
type ChainRequest struct {
	Chain  *domain.ChainDefinition `json:"chain"`
	Fields map[string]string       `json:"fields,omitempty"`
}

func (cr *ChainRequest) validate() error {
	if cr.Chain == nil {
		return domain.ErrValidation("chain is required")
	}
	return nil
}

// sseWriter frames events for a Server-Sent Events response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, domain.NewError(domain.ErrorTypeServer, "streaming not supported by this connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one event as a data frame and flushes immediately so tokens
// reach the client without buffering delay.
func (s *sseWriter) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// StreamChain executes a chain and pushes its events over SSE. Closing the
// connection cancels the execution cooperatively.
func (h *Handler) StreamChain(w http.ResponseWriter, r *http.Request) {
	var req ChainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	user := userID(r)
	if err := h.limiter.Acquire(user); err != nil {
		writeError(w, err)
		return
	}
	defer h.limiter.Release(user)

	ex, events, err := h.engine.Run(r.Context(), chain.RunInput{
		Chain:  req.Chain,
		Fields: req.Fields,
		UserID: user,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	for evt := range events {
		if err := sse.send(evt); err != nil {
			// Client went away; the request context cancellation stops the
			// engine, we just drain the channel so the producer can exit.
			h.logger.Debug("stream write failed",
				slog.String("execution_id", ex.ID),
				slog.String("error", err.Error()))
			for range events {
			}
			return
		}
	}
}
