package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calliope-ai/calliope/internal/chain"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/storage"
)

// partialFlushBytes is how much new content accumulates before the job's
// partial_content column is rewritten. Keeps poll reads fresh without a
// store write per token.
const partialFlushBytes = 512

// jobRunner executes chains detached from any request, recording progress
// in the chain job store for polling clients.
type jobRunner struct {
	engine    *chain.Engine
	store     storage.Store
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newJobRunner(engine *chain.Engine, store storage.Store, retention time.Duration, logger *slog.Logger) *jobRunner {
	return &jobRunner{
		engine:    engine,
		store:     store,
		retention: retention,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// chainJobResponse is the polling protocol's wire shape. Interval is in
// milliseconds.
type chainJobResponse struct {
	JobID                 string          `json:"jobId"`
	Status                string          `json:"status"`
	PartialContent        string          `json:"partialContent,omitempty"`
	ResponseData          json.RawMessage `json:"responseData,omitempty"`
	Error                 string          `json:"error,omitempty"`
	PollingInterval       int64           `json:"pollingInterval"`
	ShouldContinuePolling bool            `json:"shouldContinuePolling"`
}

// Start creates the job record and launches the execution in the
// background. The execution outlives the initiating request.
func (jr *jobRunner) Start(req ChainRequest, user string) (*storage.ChainJob, error) {
	now := time.Now().UTC()
	job := &storage.ChainJob{
		ID:              uuid.New().String(),
		UserID:          user,
		Status:          domain.JobPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}
	if err := jr.store.CreateChainJob(context.Background(), job); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	jr.mu.Lock()
	jr.cancels[job.ID] = cancel
	jr.mu.Unlock()

	go jr.run(ctx, job, req, user)
	return job, nil
}

// Cancel stops a running job. Returns false when the job is not running in
// this process.
func (jr *jobRunner) Cancel(jobID string) bool {
	jr.mu.Lock()
	cancel, ok := jr.cancels[jobID]
	delete(jr.cancels, jobID)
	jr.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (jr *jobRunner) run(ctx context.Context, job *storage.ChainJob, req ChainRequest, user string) {
	defer func() {
		jr.mu.Lock()
		delete(jr.cancels, job.ID)
		jr.mu.Unlock()
	}()

	ex, events, err := jr.engine.Run(ctx, chain.RunInput{
		Chain:  req.Chain,
		Fields: req.Fields,
		UserID: user,
	})
	if err != nil {
		jr.finish(job, domain.JobFailed, "", nil, domain.AsCoreError(err).Message)
		return
	}

	job.ExecutionID = ex.ID
	jr.update(job, domain.JobProcessing)

	var content strings.Builder
	var results []string
	var lastErr string
	flushed := 0

	for evt := range events {
		switch evt.Type {
		case domain.StreamToken:
			content.WriteString(evt.Token)
			if content.Len()-flushed >= partialFlushBytes {
				job.PartialContent = content.String()
				jr.update(job, job.Status)
				flushed = content.Len()
			}
		case domain.StreamPromptComplete:
			results = append(results, evt.Result)
			job.PartialContent = content.String()
			jr.update(job, job.Status)
			flushed = content.Len()
		case domain.StreamPromptError, domain.StreamError:
			lastErr = evt.Error
		}
	}

	// The engine has finalized by the time the channel closes; the
	// execution record carries the authoritative outcome.
	final, err := jr.store.GetExecution(context.Background(), ex.ID)
	if err != nil {
		jr.logger.Error("failed to read finished execution",
			slog.String("execution_id", ex.ID), slog.String("error", err.Error()))
		jr.finish(job, domain.JobFailed, content.String(), results, "execution outcome unavailable")
		return
	}

	switch final.Status {
	case domain.ExecutionCompleted:
		jr.finish(job, domain.JobCompleted, content.String(), results, "")
	default:
		msg := final.ErrorMessage
		if msg == "" {
			msg = lastErr
		}
		status := domain.JobFailed
		if ctx.Err() != nil {
			status = domain.JobCancelled
		}
		jr.finish(job, status, content.String(), results, msg)
	}
}

func (jr *jobRunner) update(job *storage.ChainJob, status domain.JobStatus) {
	now := time.Now().UTC()
	if job.Status != status {
		job.StatusChangedAt = now
	}
	job.Status = status
	job.UpdatedAt = now
	if err := jr.store.UpdateChainJob(context.Background(), job); err != nil {
		jr.logger.Error("failed to update chain job",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func (jr *jobRunner) finish(job *storage.ChainJob, status domain.JobStatus, content string, results []string, errMsg string) {
	job.PartialContent = content
	job.ErrorMessage = errMsg
	if status == domain.JobCompleted {
		data, _ := json.Marshal(map[string]any{
			"executionId": job.ExecutionID,
			"results":     results,
		})
		job.ResponseData = string(data)
	}
	jr.update(job, status)
	jr.purgeExpired()
}

// purgeExpired drops terminal jobs past the retention window. Runs whenever
// a job settles, so retention needs no background sweeper.
func (jr *jobRunner) purgeExpired() {
	if jr.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-jr.retention)
	n, err := jr.store.DeleteChainJobsBefore(context.Background(), cutoff)
	if err != nil {
		jr.logger.Warn("failed to purge expired chain jobs", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		jr.logger.Debug("purged expired chain jobs", slog.Int64("count", n))
	}
}

// CreateChainJob starts a polling-mode chain execution and returns 202 with
// the first poll hint.
func (h *Handler) CreateChainJob(w http.ResponseWriter, r *http.Request) {
	var req ChainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := req.Chain.Validate(); err != nil {
		writeError(w, err)
		return
	}

	job, err := h.jobs.Start(req, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, chainJobResponse{
		JobID:                 job.ID,
		Status:                string(job.Status),
		PollingInterval:       h.streaming.BasePollInterval.Milliseconds(),
		ShouldContinuePolling: true,
	})
}

// PollChainJob reads job progress. Terminal jobs answer every repeated poll
// identically with shouldContinuePolling false.
func (h *Handler) PollChainJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.chainJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := chainJobResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		PartialContent: job.PartialContent,
		Error:          job.ErrorMessage,
	}
	if job.ResponseData != "" {
		resp.ResponseData = json.RawMessage(job.ResponseData)
	}
	if !job.Status.Terminal() {
		resp.ShouldContinuePolling = true
		resp.PollingInterval = h.pollInterval(time.Since(job.StatusChangedAt)).Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelChainJob cancels a running polling-mode execution.
func (h *Handler) CancelChainJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.chainJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Status.Terminal() {
		writeError(w, domain.ErrValidation("job is already "+string(job.Status)))
		return
	}

	if !h.jobs.Cancel(job.ID) {
		// Not running here (process restart); mark it directly.
		now := time.Now().UTC()
		job.Status = domain.JobCancelled
		job.StatusChangedAt = now
		job.UpdatedAt = now
		job.ErrorMessage = "cancelled"
		if err := h.store.UpdateChainJob(r.Context(), job); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, chainJobResponse{
		JobID:  job.ID,
		Status: string(domain.JobCancelled),
	})
}

func (h *Handler) chainJob(r *http.Request) (*storage.ChainJob, error) {
	id := chi.URLParam(r, "jobID")
	job, err := h.store.GetChainJob(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if job.UserID != "" && userID(r) != "" && job.UserID != userID(r) {
		return nil, domain.ErrNotFound("job " + id + " not found")
	}
	return job, nil
}

// pollInterval grows the client's wait as the job sits in one status,
// doubling every ten seconds of no change up to the configured ceiling.
func (h *Handler) pollInterval(sinceChange time.Duration) time.Duration {
	interval := h.streaming.BasePollInterval
	for elapsed := sinceChange; elapsed >= 10*time.Second; elapsed -= 10 * time.Second {
		interval *= 2
		if interval >= h.streaming.MaxPollInterval {
			return h.streaming.MaxPollInterval
		}
	}
	return interval
}
