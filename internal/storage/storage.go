// Package storage defines the persistence interfaces consumed by the
// orchestration core. Writes are serialized per row by the backing store;
// the core adds no locking of its own beyond one engine per execution.
package storage

import (
	"context"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
)

// ChainJob is the polling-mode representation of a chain execution: a
// durable job record a client can poll instead of holding a stream open.
type ChainJob struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id,omitempty"`
	ExecutionID     string           `json:"execution_id,omitempty"`
	Status          domain.JobStatus `json:"status"`
	PartialContent  string           `json:"partial_content,omitempty"`
	ResponseData    string           `json:"response_data,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	StatusChangedAt time.Time        `json:"status_changed_at"`
}

// ExecutionStore persists executions, step results, and the append-only
// execution event log.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, ex *domain.Execution) error
	UpdateExecution(ctx context.Context, ex *domain.Execution) error
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)

	CreateStepResult(ctx context.Context, sr *domain.StepResult) error
	UpdateStepResult(ctx context.Context, sr *domain.StepResult) error
	ListStepResults(ctx context.Context, executionID string) ([]*domain.StepResult, error)

	AppendEvent(ctx context.Context, evt *domain.ExecutionEvent) error
	ListEvents(ctx context.Context, executionID string) ([]*domain.ExecutionEvent, error)
}

// DocumentJobStore persists document-processing jobs.
type DocumentJobStore interface {
	CreateDocumentJob(ctx context.Context, job *domain.DocumentJob) error
	UpdateDocumentJob(ctx context.Context, job *domain.DocumentJob) error
	GetDocumentJob(ctx context.Context, id string) (*domain.DocumentJob, error)
}

// ChainJobStore persists polling-mode chain jobs.
type ChainJobStore interface {
	CreateChainJob(ctx context.Context, job *ChainJob) error
	UpdateChainJob(ctx context.Context, job *ChainJob) error
	GetChainJob(ctx context.Context, id string) (*ChainJob, error)

	// DeleteChainJobsBefore removes terminal jobs whose status last changed
	// before cutoff, returning how many were removed. Non-terminal jobs are
	// never touched.
	DeleteChainJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	ExecutionStore
	DocumentJobStore
	ChainJobStore
	Close() error
}
