package gemini

import (
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// StatusError is a remote failure carrying the API's status code.
type StatusError struct {
	Code   int
	Status string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini API error %d (%s): %v", e.Code, e.Status, e.Err)
	}
	return fmt.Sprintf("gemini API error %d: %v", e.Code, e.Err)
}

// StatusCode returns the HTTP status code of the failed call.
func (e *StatusError) StatusCode() int { return e.Code }

func (e *StatusError) Unwrap() error { return e.Err }

// mapAPIError wraps genai API errors in a StatusError; other errors pass
// through unchanged.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Status: apiErr.Status, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Err: err}
	}
	return err
}
