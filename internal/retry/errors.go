package retry

import (
	"errors"
	"fmt"
)

// Common errors returned by the retry package
var (
	// ErrAborted is matched by every *AbortedError. It is not an ErrorClass.
	ErrAborted = errors.New("operation aborted")

	// ErrInvalidPolicy is returned by NewPolicy for out-of-range values
	ErrInvalidPolicy = errors.New("invalid retry policy")

	// ErrNilLogger is returned when a constructor is given a nil logger
	ErrNilLogger = errors.New("logger cannot be nil")
)

// ClassifiedError is returned when an operation fails with a fatal class or
// exhausts its attempts with a transient one.
type ClassifiedError struct {
	Class    ErrorClass
	Attempts int
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// AbortedError is returned when cancellation was observed. Cause is the last
// operation error seen before the abort, if any.
type AbortedError struct {
	Attempts int
	Reason   string
	Cause    error
}

func (e *AbortedError) Error() string {
	msg := fmt.Sprintf("%v after %d attempt(s)", ErrAborted, e.Attempts)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrAborted) true for every AbortedError.
func (e *AbortedError) Is(target error) bool {
	return target == ErrAborted
}

func (e *AbortedError) Unwrap() error {
	return e.Cause
}

// IsAborted reports whether err carries an abort.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// ClassOf returns the class attached to err by Do. The boolean is false for
// aborts and for errors that never went through Do.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return ClassFatalOther, false
}
