// Package merge interleaves two independently running token streams into
// one ordered channel of source-tagged events. Used for the model-compare
// flow: one user prompt fanned out to two providers.
package merge

import (
	"context"
	"sync"

	"github.com/calliope-ai/calliope/internal/domain"
)

// EventType discriminates merged events.
type EventType string

const (
	EventContent EventType = "content"
	EventFinish  EventType = "finish"
	EventError   EventType = "error"
)

// Event is one source-tagged event on the merged stream.
type Event struct {
	ModelID string         `json:"modelId"`
	Type    EventType      `json:"type"`
	Content string         `json:"content,omitempty"`
	Usage   *domain.Usage  `json:"usage,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Source is one participant in a merge: a label plus a function that
// starts its token stream.
type Source struct {
	ModelID string
	Start   func(ctx context.Context) (<-chan domain.TokenEvent, error)
}

// Run starts both sources and returns a channel of tagged events. Each
// source pushes into the shared channel from its own goroutine, so the
// faster model's tokens are emitted as they arrive; per-source order is
// preserved, cross-source order is arrival order. A source's failure is
// reported as its own error event and does not abort the other source.
// The merged channel closes once both sources are exhausted.
func Run(ctx context.Context, a, b Source) <-chan Event {
	out := make(chan Event, 32)

	var wg sync.WaitGroup
	for _, src := range []Source{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump(ctx, src, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func pump(ctx context.Context, src Source, out chan<- Event) {
	events, err := src.Start(ctx)
	if err != nil {
		send(ctx, out, Event{
			ModelID: src.ModelID,
			Type:    EventError,
			Error:   domain.AsCoreError(err).Message,
		})
		return
	}

	for evt := range events {
		switch {
		case evt.Err != nil:
			send(ctx, out, Event{
				ModelID: src.ModelID,
				Type:    EventError,
				Error:   domain.AsCoreError(evt.Err).Message,
			})
			return
		case evt.Usage != nil || evt.FinishReason != "":
			send(ctx, out, Event{
				ModelID: src.ModelID,
				Type:    EventFinish,
				Usage:   evt.Usage,
			})
		case evt.ContentDelta != "":
			send(ctx, out, Event{
				ModelID: src.ModelID,
				Type:    EventContent,
				Content: evt.ContentDelta,
			})
		}
	}
}

func send(ctx context.Context, out chan<- Event, evt Event) {
	select {
	case out <- evt:
	case <-ctx.Done():
	}
}
