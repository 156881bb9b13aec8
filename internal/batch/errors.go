package batch

import "errors"

var (
	// ErrNilExecutor is returned when an orchestrator is built without an executor.
	ErrNilExecutor = errors.New("executor cannot be nil")

	// ErrNilLogger is returned when an orchestrator is built without a logger.
	ErrNilLogger = errors.New("logger cannot be nil")

	// ErrInvalidStatus is returned when parsing an unknown status value.
	ErrInvalidStatus = errors.New("invalid item status")
)
