package chain

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/provider"
	"github.com/calliope-ai/calliope/internal/provider/registry"
	"github.com/calliope-ai/calliope/internal/storage/memory"
)

// fakeClient scripts provider behavior for engine tests.
type fakeClient struct {
	name     string
	complete func(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
	stream   func(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.TokenEvent, error)

	mu       sync.Mutex
	requests []*domain.CompletionRequest
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) record(req *domain.CompletionRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	f.requests = append(f.requests, &cp)
}

func (f *fakeClient) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	f.record(req)
	return f.complete(ctx, req)
}

func (f *fakeClient) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
	f.record(req)
	return f.stream(ctx, req)
}

func (f *fakeClient) lastPrompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.requests) {
		return ""
	}
	msgs := f.requests[i].Messages
	return msgs[len(msgs)-1].Content
}

// setupRegistry registers a fake non-streaming provider type and returns a
// registry with one entry named "fake".
func setupRegistry(t *testing.T, client *fakeClient, streaming bool) *provider.Registry {
	t.Helper()
	registry.ClearFactories()
	t.Cleanup(registry.ClearFactories)

	registry.RegisterFactory(registry.ProviderFactory{
		Type: "fake",
		Capabilities: domain.Capabilities{
			SupportsStreaming: streaming,
			MaxTimeout:        time.Minute,
		},
		Create: func(config.ProviderConfig) (registry.Client, error) {
			return client, nil
		},
	})

	r, err := provider.NewRegistry([]config.ProviderConfig{
		{Name: "fake", Type: "fake", Model: "test-model", APIKey: "k"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func echoClient() *fakeClient {
	return &fakeClient{
		name: "fake",
		complete: func(_ context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			last := req.Messages[len(req.Messages)-1].Content
			return &domain.CompletionResponse{
				Content:      "echo:" + last,
				FinishReason: "stop",
				Usage:        domain.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
			}, nil
		},
	}
}

func collect(events <-chan domain.StreamEvent) []domain.StreamEvent {
	var out []domain.StreamEvent
	for evt := range events {
		out = append(out, evt)
	}
	return out
}

func eventTypes(events []domain.StreamEvent) []domain.StreamEventType {
	types := make([]domain.StreamEventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func twoStepChain() *domain.ChainDefinition {
	return &domain.ChainDefinition{
		ID:   "chain-1",
		Name: "summarize",
		Steps: []domain.PromptStep{
			{ID: "s1", Position: 1, TemplateText: "Describe {{topic}}", ProviderRef: "fake"},
			{ID: "s2", Position: 2, TemplateText: "Shorten: {{result_1}}", ProviderRef: "fake"},
		},
	}
}

func TestRunSequentialChaining(t *testing.T) {
	client := echoClient()
	reg := setupRegistry(t, client, false)
	store := memory.New()
	engine := New(reg, store)

	ex, events, err := engine.Run(context.Background(), RunInput{
		Chain:  twoStepChain(),
		Fields: map[string]string{"topic": "rivers"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := collect(events)
	want := []domain.StreamEventType{
		domain.StreamMetadata,
		domain.StreamPromptStart,
		domain.StreamPromptComplete,
		domain.StreamPromptStart,
		domain.StreamPromptComplete,
		domain.StreamComplete,
	}
	types := eventTypes(got)
	if len(types) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(types), types, len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	if got[0].TotalPrompts != 2 {
		t.Errorf("metadata totalPrompts = %d, want 2", got[0].TotalPrompts)
	}
	if got[1].PromptIndex == nil || *got[1].PromptIndex != 0 {
		t.Errorf("first prompt_start index = %v, want 0", got[1].PromptIndex)
	}

	// The second step must see the first step's output substituted.
	if p := client.lastPrompt(1); p != "Shorten: echo:Describe rivers" {
		t.Errorf("second prompt = %q", p)
	}

	final, err := store.GetExecution(context.Background(), ex.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if final.Status != domain.ExecutionCompleted {
		t.Errorf("execution status = %s, want completed", final.Status)
	}

	steps, err := store.ListStepResults(context.Background(), ex.ID)
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d step results, want 2", len(steps))
	}
	for _, sr := range steps {
		if sr.Status != domain.StepCompleted {
			t.Errorf("step %s status = %s, want completed", sr.StepID, sr.Status)
		}
		if sr.Usage == nil || sr.Usage.TotalTokens == 0 {
			t.Errorf("step %s has no usage", sr.StepID)
		}
	}
}

func TestRunStreamingTokens(t *testing.T) {
	client := &fakeClient{
		name: "fake",
		stream: func(_ context.Context, _ *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
			ch := make(chan domain.TokenEvent, 4)
			ch <- domain.TokenEvent{ContentDelta: "hel"}
			ch <- domain.TokenEvent{ContentDelta: "lo"}
			ch <- domain.TokenEvent{FinishReason: "stop", Usage: &domain.Usage{TotalTokens: 3}}
			close(ch)
			return ch, nil
		},
	}
	reg := setupRegistry(t, client, true)
	store := memory.New()
	engine := New(reg, store)

	ex, events, err := engine.Run(context.Background(), RunInput{
		Chain: &domain.ChainDefinition{
			ID:    "c",
			Steps: []domain.PromptStep{{ID: "s1", Position: 1, TemplateText: "hi", ProviderRef: "fake"}},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := collect(events)
	var tokens []string
	var result string
	for _, evt := range got {
		switch evt.Type {
		case domain.StreamToken:
			tokens = append(tokens, evt.Token)
		case domain.StreamPromptComplete:
			result = evt.Result
		}
	}
	if strings.Join(tokens, "") != "hello" {
		t.Errorf("tokens = %v, want hello", tokens)
	}
	if result != "hello" {
		t.Errorf("prompt_complete result = %q, want hello", result)
	}

	evts, err := store.ListEvents(context.Background(), ex.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var sawToken, sawChainComplete bool
	var lastSeq int64
	for _, e := range evts {
		if e.Seq <= lastSeq {
			t.Errorf("event seq not increasing: %d after %d", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		switch e.Type {
		case domain.EventToken:
			sawToken = true
		case domain.EventChainComplete:
			sawChainComplete = true
		}
	}
	if !sawToken || !sawChainComplete {
		t.Errorf("event log missing types: token=%v chain_complete=%v", sawToken, sawChainComplete)
	}
}

func TestRunAbortsOnStepFailure(t *testing.T) {
	var calls int
	var mu sync.Mutex
	client := &fakeClient{
		name: "fake",
		complete: func(_ context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 2 {
				return nil, domain.ErrProvider("upstream unavailable")
			}
			return &domain.CompletionResponse{Content: "ok", FinishReason: "stop"}, nil
		},
	}
	reg := setupRegistry(t, client, false)
	store := memory.New()
	engine := New(reg, store)

	chain := &domain.ChainDefinition{
		ID: "c",
		Steps: []domain.PromptStep{
			{ID: "s1", Position: 1, TemplateText: "a", ProviderRef: "fake"},
			{ID: "s2", Position: 2, TemplateText: "b", ProviderRef: "fake"},
			{ID: "s3", Position: 3, TemplateText: "c", ProviderRef: "fake"},
		},
	}
	ex, events, err := engine.Run(context.Background(), RunInput{Chain: chain})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := collect(events)
	types := eventTypes(got)
	if types[len(types)-1] != domain.StreamComplete {
		t.Errorf("last event = %s, want complete even on failure", types[len(types)-1])
	}
	var sawError bool
	for _, typ := range types {
		if typ == domain.StreamPromptError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected a prompt_error event")
	}

	final, _ := store.GetExecution(context.Background(), ex.ID)
	if final.Status != domain.ExecutionFailed {
		t.Errorf("execution status = %s, want failed", final.Status)
	}

	steps, _ := store.ListStepResults(context.Background(), ex.ID)
	if len(steps) != 2 {
		t.Fatalf("got %d step results, want 2 (third step never started)", len(steps))
	}
	if steps[0].Status != domain.StepCompleted {
		t.Errorf("step 1 status = %s, want completed", steps[0].Status)
	}
	if steps[1].Status != domain.StepFailed {
		t.Errorf("step 2 status = %s, want failed", steps[1].Status)
	}
}

func TestRunContinueOnError(t *testing.T) {
	var calls int
	var mu sync.Mutex
	client := &fakeClient{
		name: "fake",
		complete: func(_ context.Context, _ *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return nil, domain.ErrProvider("flaky")
			}
			return &domain.CompletionResponse{Content: "ok", FinishReason: "stop"}, nil
		},
	}
	reg := setupRegistry(t, client, false)
	store := memory.New()
	engine := New(reg, store)

	chain := &domain.ChainDefinition{
		ID: "c",
		Steps: []domain.PromptStep{
			{ID: "s1", Position: 1, TemplateText: "a", ProviderRef: "fake", ContinueOnError: true},
			{ID: "s2", Position: 2, TemplateText: "b", ProviderRef: "fake"},
		},
	}
	ex, events, err := engine.Run(context.Background(), RunInput{Chain: chain})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collect(events)

	steps, _ := store.ListStepResults(context.Background(), ex.ID)
	if len(steps) != 2 {
		t.Fatalf("got %d step results, want 2", len(steps))
	}
	if steps[1].Status != domain.StepCompleted {
		t.Errorf("step after tolerated failure = %s, want completed", steps[1].Status)
	}
}

func TestRunParallelGroupFailureIsolation(t *testing.T) {
	client := &fakeClient{
		name: "fake",
		complete: func(_ context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			last := req.Messages[len(req.Messages)-1].Content
			if strings.Contains(last, "bad") {
				return nil, domain.ErrProvider("boom")
			}
			return &domain.CompletionResponse{Content: "fine", FinishReason: "stop"}, nil
		},
	}
	reg := setupRegistry(t, client, false)
	store := memory.New()
	engine := New(reg, store)

	chain := &domain.ChainDefinition{
		ID: "c",
		Steps: []domain.PromptStep{
			{ID: "p1", Position: 1, ParallelGroup: "g", TemplateText: "bad", ProviderRef: "fake"},
			{ID: "p2", Position: 1, ParallelGroup: "g", TemplateText: "good", ProviderRef: "fake"},
			{ID: "s3", Position: 2, TemplateText: "after", ProviderRef: "fake"},
		},
	}
	ex, events, err := engine.Run(context.Background(), RunInput{Chain: chain})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collect(events)

	final, _ := store.GetExecution(context.Background(), ex.ID)
	if final.Status != domain.ExecutionFailed {
		t.Errorf("execution status = %s, want failed", final.Status)
	}

	steps, _ := store.ListStepResults(context.Background(), ex.ID)
	byStep := make(map[string]domain.StepStatus)
	for _, sr := range steps {
		byStep[sr.StepID] = sr.Status
	}
	if byStep["p1"] != domain.StepFailed {
		t.Errorf("p1 = %s, want failed", byStep["p1"])
	}
	// The failing sibling must not abort the in-flight member.
	if byStep["p2"] != domain.StepCompleted {
		t.Errorf("p2 = %s, want completed", byStep["p2"])
	}
	if _, ok := byStep["s3"]; ok {
		t.Error("step after failed group should never start")
	}
}

func TestRunCancellation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	client := &fakeClient{
		name: "fake",
		complete: func(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			last := req.Messages[len(req.Messages)-1].Content
			if last == "slow" {
				started <- struct{}{}
				select {
				case <-ctx.Done():
					return nil, domain.ErrCancelled("cancelled")
				case <-release:
				}
			}
			return &domain.CompletionResponse{Content: "ok", FinishReason: "stop"}, nil
		},
	}
	reg := setupRegistry(t, client, false)
	store := memory.New()
	engine := New(reg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer close(release)

	chain := &domain.ChainDefinition{
		ID: "c",
		Steps: []domain.PromptStep{
			{ID: "s1", Position: 1, TemplateText: "fast", ProviderRef: "fake"},
			{ID: "s2", Position: 2, TemplateText: "slow", ProviderRef: "fake"},
			{ID: "s3", Position: 3, TemplateText: "never", ProviderRef: "fake"},
		},
	}
	ex, events, err := engine.Run(ctx, RunInput{Chain: chain})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	go func() {
		<-started
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		collect(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}

	final, err := store.GetExecution(context.Background(), ex.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if final.Status != domain.ExecutionFailed {
		t.Errorf("execution status = %s, want failed", final.Status)
	}

	steps, _ := store.ListStepResults(context.Background(), ex.ID)
	byStep := make(map[string]domain.StepStatus)
	for _, sr := range steps {
		byStep[sr.StepID] = sr.Status
	}
	if byStep["s1"] != domain.StepCompleted {
		t.Errorf("s1 = %s, want completed", byStep["s1"])
	}
	if byStep["s2"] != domain.StepFailed {
		t.Errorf("s2 = %s, want failed", byStep["s2"])
	}
	if _, ok := byStep["s3"]; ok {
		t.Error("s3 should never be created after cancellation")
	}
}

func TestRunRejectsInvalidChain(t *testing.T) {
	client := echoClient()
	reg := setupRegistry(t, client, false)
	engine := New(reg, memory.New())

	_, _, err := engine.Run(context.Background(), RunInput{
		Chain: &domain.ChainDefinition{ID: "c"},
	})
	if err == nil {
		t.Fatal("expected validation error for empty chain")
	}
	if ce := domain.AsCoreError(err); ce.Type != domain.ErrorTypeValidation {
		t.Errorf("error type = %s, want validation", ce.Type)
	}
}

func TestMarshalFields(t *testing.T) {
	got := MarshalFields(map[string]string{"topic": "rivers", "audience": "kids"})
	if got != `{"audience":"kids","topic":"rivers"}` {
		t.Errorf("MarshalFields = %s", got)
	}
	if got := MarshalFields(nil); got != "null" {
		t.Errorf("MarshalFields(nil) = %s", got)
	}
}
