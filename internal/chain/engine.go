// Package chain executes assistant chain definitions: placeholder
// resolution, sequential and parallel-group step scheduling, per-step
// result persistence, and stream event emission.
package chain

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/llm"
	"github.com/calliope-ai/calliope/internal/provider"
	"github.com/calliope-ai/calliope/internal/storage"
	"github.com/calliope-ai/calliope/internal/tokens"
)

const defaultStepTimeout = 60 * time.Second

// Option configures the engine.
type Option func(*Engine)

// WithTools attaches a tool set available to every step.
func WithTools(ts *llm.ToolSet) Option {
	return func(e *Engine) {
		e.tools = ts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine drives chain executions. One engine instance may run many
// executions concurrently; each execution is driven by exactly one Run
// call.
type Engine struct {
	registry *provider.Registry
	store    storage.ExecutionStore
	tools    *llm.ToolSet
	counter  *tokens.Registry
	logger   *slog.Logger
}

// New creates an execution engine.
func New(registry *provider.Registry, store storage.ExecutionStore, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		store:    store,
		counter:  tokens.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunInput is one execution request.
type RunInput struct {
	Chain  *domain.ChainDefinition
	Fields map[string]string
	UserID string
}

// Run validates the chain, creates the execution record, and starts the
// run in a goroutine. The returned channel delivers the wire-model stream
// events and closes once the execution reaches a terminal state.
// Cancelling ctx stops the run cooperatively: no further provider calls
// are issued and the execution is finalized as failed with a cancellation
// reason.
func (e *Engine) Run(ctx context.Context, in RunInput) (*domain.Execution, <-chan domain.StreamEvent, error) {
	if err := in.Chain.Validate(); err != nil {
		return nil, nil, err
	}

	ex := &domain.Execution{
		ID:        uuid.New().String(),
		ChainID:   in.Chain.ID,
		UserID:    in.UserID,
		Status:    domain.ExecutionPending,
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return nil, nil, err
	}

	out := make(chan domain.StreamEvent, 32)
	go e.run(ctx, ex, in, out)
	return ex, out, nil
}

// runState tracks one execution's mutable state inside run.
type runState struct {
	mu      sync.Mutex
	seq     int64
	results []string // completed step outputs in position order
}

func (st *runState) nextSeq() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.seq++
	return st.seq
}

func (e *Engine) run(ctx context.Context, ex *domain.Execution, in RunInput, out chan<- domain.StreamEvent) {
	defer close(out)

	st := &runState{}
	emit := func(evt domain.StreamEvent) {
		select {
		case out <- evt:
		case <-ctx.Done():
		}
	}

	ex.Status = domain.ExecutionRunning
	if err := e.store.UpdateExecution(context.WithoutCancel(ctx), ex); err != nil {
		e.fail(ctx, ex, st, emit, "failed to start execution: "+err.Error())
		return
	}

	e.logger.Debug("execution started",
		slog.String("execution_id", ex.ID),
		slog.String("chain_id", in.Chain.ID),
		slog.String("fields", MarshalFields(in.Fields)))

	emit(domain.StreamEvent{
		Type:         domain.StreamMetadata,
		TotalPrompts: len(in.Chain.Steps),
		ToolName:     in.Chain.Name,
	})

	groups := in.Chain.StepGroups()
	stepIndex := 0
	aborted := false

groupLoop:
	for _, group := range groups {
		if ctx.Err() != nil {
			e.cancel(ctx, ex, st, emit)
			return
		}

		if len(group) == 1 && group[0].ParallelGroup == "" {
			step := group[0]
			err := e.runStep(ctx, ex, st, step, stepIndex, in.Fields, emit)
			stepIndex++
			if err != nil {
				if ctx.Err() != nil {
					e.cancel(ctx, ex, st, emit)
					return
				}
				if !step.ContinueOnError {
					aborted = true
					ex.ErrorMessage = domain.AsCoreError(err).Message
					break groupLoop
				}
			}
			continue
		}

		// Parallel group: launch all members and wait for every one to
		// settle before advancing. A failed member does not abort its
		// in-flight siblings, only subsequent groups.
		var groupErr error
		var errMu sync.Mutex
		g := new(errgroup.Group)
		base := stepIndex
		for i, step := range group {
			g.Go(func() error {
				if err := e.runStep(ctx, ex, st, step, base+i, in.Fields, emit); err != nil {
					if !step.ContinueOnError {
						errMu.Lock()
						groupErr = err
						errMu.Unlock()
					}
				}
				return nil // never short-circuit the barrier
			})
		}
		_ = g.Wait()
		stepIndex += len(group)

		if ctx.Err() != nil {
			e.cancel(ctx, ex, st, emit)
			return
		}
		if groupErr != nil {
			aborted = true
			ex.ErrorMessage = domain.AsCoreError(groupErr).Message
			break groupLoop
		}
	}

	now := time.Now().UTC()
	ex.CompletedAt = &now
	if aborted {
		ex.Status = domain.ExecutionFailed
	} else {
		ex.Status = domain.ExecutionCompleted
	}
	if err := e.store.UpdateExecution(context.WithoutCancel(ctx), ex); err != nil {
		e.logger.Error("failed to finalize execution",
			slog.String("execution_id", ex.ID), slog.String("error", err.Error()))
	}

	// The terminal complete event is emitted even after a failed step so
	// callers receive whatever results did land.
	e.logEvent(ctx, ex.ID, st, domain.EventChainComplete, "", string(ex.Status))
	emit(domain.StreamEvent{Type: domain.StreamComplete, ExecutionID: ex.ID})
}

// runStep executes one step end to end: placeholder resolution, step
// result lifecycle, provider invocation, and event emission.
func (e *Engine) runStep(
	ctx context.Context,
	ex *domain.Execution,
	st *runState,
	step domain.PromptStep,
	index int,
	fields map[string]string,
	emit func(domain.StreamEvent),
) error {
	st.mu.Lock()
	resolved := ResolveTemplate(step.TemplateText, fields, st.results)
	st.mu.Unlock()

	now := time.Now().UTC()
	sr := &domain.StepResult{
		ID:          uuid.New().String(),
		ExecutionID: ex.ID,
		StepID:      step.ID,
		Position:    step.Position,
		InputData:   resolved,
		Status:      domain.StepPending,
	}
	if err := e.store.CreateStepResult(context.WithoutCancel(ctx), sr); err != nil {
		return domain.AsCoreError(err)
	}

	sr.Status = domain.StepRunning
	sr.StartedAt = &now
	if err := e.store.UpdateStepResult(context.WithoutCancel(ctx), sr); err != nil {
		return domain.AsCoreError(err)
	}

	caps, err := e.registry.Lookup(step.ProviderRef)
	if err != nil {
		return e.failStep(ctx, st, sr, index, emit, err)
	}
	client, _, err := e.registry.Resolve(step.ProviderRef, step.ModelID)
	if err != nil {
		return e.failStep(ctx, st, sr, index, emit, err)
	}

	model := step.ModelID
	if model == "" {
		model = e.registry.Model(step.ProviderRef)
	}

	e.logEvent(ctx, ex.ID, st, domain.EventStepStart, step.ID, "")
	emit(domain.StreamEvent{
		Type:        domain.StreamPromptStart,
		PromptIndex: domain.Index(index),
		PromptID:    step.ID,
		ModelName:   model,
	})

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	if caps.MaxTimeout > 0 && timeout > caps.MaxTimeout {
		timeout = caps.MaxTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &domain.CompletionRequest{
		Model: model,
		Messages: buildMessages(step.SystemContext, resolved),
	}
	if caps.DefaultMaxTokens > 0 {
		req.MaxTokens = caps.DefaultMaxTokens
	}

	c := llm.New(client, llm.WithTokenCounter(e.counter), llm.WithLogger(e.logger), llm.WithTools(e.tools))

	var output string
	var usage *domain.Usage
	if caps.SupportsStreaming {
		output, usage, err = e.streamStep(stepCtx, ex, st, step, index, c, req, emit)
	} else {
		var resp *domain.CompletionResponse
		resp, err = c.Complete(stepCtx, req)
		if err == nil {
			output = resp.Content
			usage = &resp.Usage
		}
	}
	if err != nil {
		return e.failStep(ctx, st, sr, index, emit, err)
	}

	done := time.Now().UTC()
	sr.Status = domain.StepCompleted
	sr.OutputData = output
	sr.Usage = usage
	sr.CompletedAt = &done
	if err := e.store.UpdateStepResult(context.WithoutCancel(ctx), sr); err != nil {
		return domain.AsCoreError(err)
	}

	st.mu.Lock()
	st.results = append(st.results, output)
	st.mu.Unlock()

	e.logEvent(ctx, ex.ID, st, domain.EventStepComplete, step.ID, output)
	emit(domain.StreamEvent{
		Type:        domain.StreamPromptComplete,
		PromptIndex: domain.Index(index),
		Result:      output,
	})
	return nil
}

// streamStep consumes the token stream for one step, forwarding tokens to
// the caller and the event log as they arrive.
func (e *Engine) streamStep(
	ctx context.Context,
	ex *domain.Execution,
	st *runState,
	step domain.PromptStep,
	index int,
	c *llm.Client,
	req *domain.CompletionRequest,
	emit func(domain.StreamEvent),
) (string, *domain.Usage, error) {
	events, err := c.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var content strings.Builder
	var usage *domain.Usage
	for evt := range events {
		if evt.Err != nil {
			return "", nil, evt.Err
		}
		if evt.Usage != nil || evt.FinishReason != "" {
			usage = evt.Usage
			continue
		}
		if evt.ContentDelta == "" {
			continue
		}
		content.WriteString(evt.ContentDelta)
		e.logEvent(ctx, ex.ID, st, domain.EventToken, step.ID, evt.ContentDelta)
		emit(domain.StreamEvent{
			Type:        domain.StreamToken,
			PromptIndex: domain.Index(index),
			Token:       evt.ContentDelta,
		})
	}
	return content.String(), usage, nil
}

// failStep marks the step result failed and emits the error events.
// Returns the original error for the caller's abort decision.
func (e *Engine) failStep(
	ctx context.Context,
	st *runState,
	sr *domain.StepResult,
	index int,
	emit func(domain.StreamEvent),
	cause error,
) error {
	ce := domain.AsCoreError(cause)
	now := time.Now().UTC()
	sr.Status = domain.StepFailed
	sr.Error = ce.Message
	sr.CompletedAt = &now
	if err := e.store.UpdateStepResult(context.WithoutCancel(ctx), sr); err != nil {
		e.logger.Error("failed to record step failure",
			slog.String("step_result_id", sr.ID), slog.String("error", err.Error()))
	}

	e.logEvent(ctx, sr.ExecutionID, st, domain.EventStepError, sr.StepID, ce.Message)
	emit(domain.StreamEvent{
		Type:        domain.StreamPromptError,
		PromptIndex: domain.Index(index),
		Error:       ce.Message,
	})
	return ce
}

// cancel finalizes an execution after a cooperative cancellation.
func (e *Engine) cancel(ctx context.Context, ex *domain.Execution, st *runState, emit func(domain.StreamEvent)) {
	now := time.Now().UTC()
	ex.Status = domain.ExecutionFailed
	ex.ErrorMessage = "execution cancelled: client disconnected"
	ex.CompletedAt = &now
	if err := e.store.UpdateExecution(context.WithoutCancel(ctx), ex); err != nil {
		e.logger.Error("failed to finalize cancelled execution",
			slog.String("execution_id", ex.ID), slog.String("error", err.Error()))
	}
	e.logEvent(ctx, ex.ID, st, domain.EventChainComplete, "", string(ex.Status))
	emit(domain.StreamEvent{Type: domain.StreamComplete, ExecutionID: ex.ID})
}

// fail finalizes an execution after an orchestration-level error.
func (e *Engine) fail(ctx context.Context, ex *domain.Execution, st *runState, emit func(domain.StreamEvent), msg string) {
	now := time.Now().UTC()
	ex.Status = domain.ExecutionFailed
	ex.ErrorMessage = msg
	ex.CompletedAt = &now
	if err := e.store.UpdateExecution(context.WithoutCancel(ctx), ex); err != nil {
		e.logger.Error("failed to finalize execution",
			slog.String("execution_id", ex.ID), slog.String("error", err.Error()))
	}
	emit(domain.StreamEvent{Type: domain.StreamError, Error: msg})
}

// logEvent appends to the execution event log (best-effort).
func (e *Engine) logEvent(ctx context.Context, executionID string, st *runState, typ domain.ExecutionEventType, stepID, payload string) {
	evt := &domain.ExecutionEvent{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Seq:         st.nextSeq(),
		Type:        typ,
		StepID:      stepID,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.Warn("failed to append execution event",
			slog.String("execution_id", executionID), slog.String("error", err.Error()))
	}
}

func buildMessages(system, prompt string) []domain.Message {
	var msgs []domain.Message
	if system != "" {
		msgs = append(msgs, domain.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: prompt})
	return msgs
}

// MarshalFields serializes caller field values for log and audit output.
// Keys are emitted in sorted order so the output is stable.
func MarshalFields(fields map[string]string) string {
	b, _ := json.Marshal(fields)
	return string(b)
}
