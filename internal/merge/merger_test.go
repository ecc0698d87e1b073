package merge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
)

func tokenSource(model string, tokens []string) Source {
	return Source{
		ModelID: model,
		Start: func(context.Context) (<-chan domain.TokenEvent, error) {
			ch := make(chan domain.TokenEvent, len(tokens)+1)
			for _, tok := range tokens {
				ch <- domain.TokenEvent{ContentDelta: tok}
			}
			ch <- domain.TokenEvent{FinishReason: "stop", Usage: &domain.Usage{TotalTokens: len(tokens)}}
			close(ch)
			return ch, nil
		},
	}
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatal("merge stream did not close")
		}
	}
}

func TestRunMergesBothSources(t *testing.T) {
	a := tokenSource("model-a", []string{"a1", "a2", "a3"})
	b := tokenSource("model-b", []string{"b1", "b2"})

	events := drain(t, Run(context.Background(), a, b))

	perModel := map[string][]string{}
	finishes := map[string]bool{}
	for _, evt := range events {
		switch evt.Type {
		case EventContent:
			perModel[evt.ModelID] = append(perModel[evt.ModelID], evt.Content)
		case EventFinish:
			finishes[evt.ModelID] = true
		case EventError:
			t.Errorf("unexpected error event from %s: %s", evt.ModelID, evt.Error)
		}
	}

	// Per-source order is preserved even though cross-source order is
	// arrival order.
	if got := strings.Join(perModel["model-a"], ""); got != "a1a2a3" {
		t.Errorf("model-a content = %q", got)
	}
	if got := strings.Join(perModel["model-b"], ""); got != "b1b2" {
		t.Errorf("model-b content = %q", got)
	}
	if !finishes["model-a"] || !finishes["model-b"] {
		t.Errorf("missing finish events: %v", finishes)
	}
}

func TestRunIsolatesSourceFailure(t *testing.T) {
	ok := tokenSource("good", []string{"x", "y"})
	bad := Source{
		ModelID: "bad",
		Start: func(context.Context) (<-chan domain.TokenEvent, error) {
			return nil, errors.New("connect refused")
		},
	}

	events := drain(t, Run(context.Background(), ok, bad))

	var goodContent, badErrors, goodFinish int
	for _, evt := range events {
		switch {
		case evt.ModelID == "good" && evt.Type == EventContent:
			goodContent++
		case evt.ModelID == "good" && evt.Type == EventFinish:
			goodFinish++
		case evt.ModelID == "bad" && evt.Type == EventError:
			badErrors++
		}
	}
	if goodContent != 2 || goodFinish != 1 {
		t.Errorf("good source: %d content, %d finish", goodContent, goodFinish)
	}
	if badErrors != 1 {
		t.Errorf("bad source emitted %d error events, want 1", badErrors)
	}
}

func TestRunMidStreamError(t *testing.T) {
	failing := Source{
		ModelID: "flaky",
		Start: func(context.Context) (<-chan domain.TokenEvent, error) {
			ch := make(chan domain.TokenEvent, 2)
			ch <- domain.TokenEvent{ContentDelta: "partial"}
			ch <- domain.TokenEvent{Err: domain.ErrProvider("stream cut")}
			close(ch)
			return ch, nil
		},
	}
	steady := tokenSource("steady", []string{"full"})

	events := drain(t, Run(context.Background(), failing, steady))

	var flakyErr bool
	var steadyFinish bool
	for _, evt := range events {
		if evt.ModelID == "flaky" && evt.Type == EventError {
			flakyErr = true
		}
		if evt.ModelID == "steady" && evt.Type == EventFinish {
			steadyFinish = true
		}
	}
	if !flakyErr {
		t.Error("expected an error event from the flaky source")
	}
	if !steadyFinish {
		t.Error("steady source should finish despite the sibling failure")
	}
}

func TestRunContextCancellation(t *testing.T) {
	blocked := Source{
		ModelID: "blocked",
		Start: func(ctx context.Context) (<-chan domain.TokenEvent, error) {
			ch := make(chan domain.TokenEvent)
			go func() {
				<-ctx.Done()
				close(ch)
			}()
			return ch, nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	events := Run(ctx, blocked, tokenSource("quick", []string{"q"}))

	cancel()
	drain(t, events)
}
