package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-genpipe/internal/api/shared"
	"github.com/phrazzld/scry-genpipe/internal/service"
	"github.com/phrazzld/scry-genpipe/internal/store"
)

// ErrInvalidID is returned for malformed path identifiers.
var ErrInvalidID = errors.New("invalid identifier")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking their types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrBatchNotFound),
		errors.Is(err, service.ErrResultNotFound),
		errors.Is(err, service.ErrBatchNotRunning),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrBatchRunning),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, service.ErrInvalidBatch),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, service.ErrBatchNotFound):
		return "Batch not found"
	case errors.Is(err, service.ErrResultNotFound):
		return "Result not found"
	case errors.Is(err, service.ErrBatchNotRunning):
		return "Batch is not running"
	case errors.Is(err, service.ErrBatchRunning):
		return "Batch is already running"
	case errors.Is(err, service.ErrInvalidBatch):
		// service validation messages name only fields and limits
		return "Invalid batch: " + strings.TrimPrefix(err.Error(), service.ErrInvalidBatch.Error()+": ")
	case errors.Is(err, ErrInvalidID):
		return "Invalid identifier"
	case errors.Is(err, service.ErrShuttingDown):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a short message
// naming the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Namespace(), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "dive":
		return "invalid item"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and safe message for err.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
