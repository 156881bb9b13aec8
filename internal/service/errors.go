package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-genpipe/internal/store"
)

// Service-level sentinel errors. The API layer maps them to status codes.
var (
	// ErrBatchNotFound indicates the batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchNotRunning is returned by Cancel when no run is active.
	ErrBatchNotRunning = errors.New("batch is not running")

	// ErrBatchRunning is returned by Resume when a run is already active.
	ErrBatchRunning = errors.New("batch is already running")

	// ErrResultNotFound indicates the result handle is unknown.
	ErrResultNotFound = errors.New("result not found")

	// ErrInvalidBatch is returned for batches that cannot be started.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("service is shutting down")
)

// BatchServiceError wraps errors from the batch service with context.
type BatchServiceError struct {
	// Operation is the operation that failed (e.g. "create_batch")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for BatchServiceError.
func (e *BatchServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("batch service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("batch service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *BatchServiceError) Unwrap() error {
	return e.Err
}

// NewBatchServiceError wraps err, returning known sentinels directly.
func NewBatchServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, store.ErrBatchNotFound):
		return ErrBatchNotFound
	case errors.Is(err, ErrResultNotFound), errors.Is(err, store.ErrResultNotFound):
		return ErrResultNotFound
	}

	return &BatchServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
