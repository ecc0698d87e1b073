package domain

import "time"

// ExecutionStatus enumerates execution lifecycle states.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepStatus enumerates step result states. Transitions only
// pending -> running -> {completed|failed}; terminal states are immutable.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Execution is one end-to-end run of a chain against specific user input.
type Execution struct {
	ID           string          `json:"id"`
	ChainID      string          `json:"chain_id"`
	UserID       string          `json:"user_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// StepResult is the persisted outcome of one step within one execution.
type StepResult struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	Position    int        `json:"position"`
	InputData   string     `json:"input_data"`
	OutputData  string     `json:"output_data,omitempty"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Usage       *Usage     `json:"usage,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExecutionEventType enumerates engine-internal occurrences.
type ExecutionEventType string

const (
	EventStepStart     ExecutionEventType = "step_start"
	EventToken         ExecutionEventType = "token"
	EventStepComplete  ExecutionEventType = "step_complete"
	EventStepError     ExecutionEventType = "step_error"
	EventChainComplete ExecutionEventType = "chain_complete"
)

// ExecutionEvent is an append-only record of an engine-internal occurrence,
// used for audit/replay and for reconstructing a stream after a reconnect.
type ExecutionEvent struct {
	ID          string             `json:"id"`
	ExecutionID string             `json:"execution_id"`
	Seq         int64              `json:"seq"`
	Type        ExecutionEventType `json:"type"`
	StepID      string             `json:"step_id,omitempty"`
	Payload     string             `json:"payload,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}
