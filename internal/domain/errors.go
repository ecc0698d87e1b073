// Package domain provides the canonical types and error taxonomy for the
// orchestration core.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a core error.
type ErrorType string

const (
	// ErrorTypeConfiguration indicates a missing or invalid provider
	// configuration. Fatal, never retried.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeProvider indicates a network/auth/rate-limit failure from an
	// upstream provider.
	ErrorTypeProvider ErrorType = "provider"

	// ErrorTypeTool indicates a bad tool invocation or failed tool execution.
	ErrorTypeTool ErrorType = "tool"

	// ErrorTypeValidation indicates a malformed or inadmissible request.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeNotFound indicates a job/execution that does not exist or is
	// not owned by the caller.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeTimeout indicates a step or poll exceeded its budget.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeCancelled indicates the caller cancelled or disconnected.
	ErrorTypeCancelled ErrorType = "cancelled"

	// ErrorTypeServer indicates an internal orchestration failure.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeUnknownProvider      ErrorCode = "unknown_provider"
	ErrorCodeMissingCredentials   ErrorCode = "missing_credentials"
	ErrorCodeUnknownTool          ErrorCode = "unknown_tool"
	ErrorCodeInvalidToolArguments ErrorCode = "invalid_tool_arguments"
	ErrorCodeToolExecutionFailed  ErrorCode = "tool_execution_failed"
	ErrorCodeProviderUnavailable  ErrorCode = "provider_unavailable"
	ErrorCodeRateLimited          ErrorCode = "rate_limited"
	ErrorCodeStepTimeout          ErrorCode = "step_timeout"
	ErrorCodeClientDisconnected   ErrorCode = "client_disconnected"
)

// CoreError is the canonical error surfaced by the orchestration core.
// Components normalize provider-specific failures into this type so the
// chain engine can decide whether to retry, skip, or abort.
type CoreError struct {
	// Type is the category of error.
	Type ErrorType `json:"type"`

	// Code is an optional specific error code.
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code.
	StatusCode int `json:"-"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *CoreError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConfiguration:
		return http.StatusInternalServerError
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeProvider, ErrorTypeTool:
		return http.StatusBadGateway
	case ErrorTypeCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new core error.
func NewError(errType ErrorType, message string) *CoreError {
	return &CoreError{Type: errType, Message: message}
}

// WithCode adds an error code to the error.
func (e *CoreError) WithCode(code ErrorCode) *CoreError {
	e.Code = code
	return e
}

// WithCause attaches the underlying error.
func (e *CoreError) WithCause(cause error) *CoreError {
	e.Cause = cause
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *CoreError) WithStatusCode(code int) *CoreError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *CoreError {
	return NewError(ErrorTypeConfiguration, message)
}

// ErrProvider creates a provider error.
func ErrProvider(message string) *CoreError {
	return NewError(ErrorTypeProvider, message).WithCode(ErrorCodeProviderUnavailable)
}

// ErrValidation creates a validation error.
func ErrValidation(message string) *CoreError {
	return NewError(ErrorTypeValidation, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *CoreError {
	return NewError(ErrorTypeNotFound, message)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *CoreError {
	return NewError(ErrorTypeTimeout, message).WithCode(ErrorCodeStepTimeout)
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *CoreError {
	return NewError(ErrorTypeCancelled, message).WithCode(ErrorCodeClientDisconnected)
}

// ErrUnknownTool creates a tool error for an unregistered tool name.
func ErrUnknownTool(name string) *CoreError {
	return NewError(ErrorTypeTool, fmt.Sprintf("unknown tool: %s", name)).
		WithCode(ErrorCodeUnknownTool)
}

// ErrInvalidToolArguments creates a tool error for malformed tool arguments.
func ErrInvalidToolArguments(name string, cause error) *CoreError {
	return NewError(ErrorTypeTool, fmt.Sprintf("invalid arguments for tool %s: %v", name, cause)).
		WithCode(ErrorCodeInvalidToolArguments).
		WithCause(cause)
}

// ErrToolExecution creates a tool error for a tool that ran and failed.
func ErrToolExecution(name string, cause error) *CoreError {
	return NewError(ErrorTypeTool, fmt.Sprintf("tool %s failed: %v", name, cause)).
		WithCode(ErrorCodeToolExecutionFailed).
		WithCause(cause)
}

// AsCoreError extracts a CoreError from err, normalizing unknown errors to
// the server category so callers always see the canonical taxonomy.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return NewError(ErrorTypeServer, err.Error()).WithCause(err)
}

// IsFatalToChain reports whether an error category should abort the
// remainder of a sequential chain. Timeouts count the same as provider
// errors here.
func IsFatalToChain(err error) bool {
	ce := AsCoreError(err)
	switch ce.Type {
	case ErrorTypeProvider, ErrorTypeTool, ErrorTypeTimeout, ErrorTypeCancelled,
		ErrorTypeConfiguration, ErrorTypeServer:
		return true
	default:
		return false
	}
}
