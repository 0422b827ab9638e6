package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/mailindex/internal/api/shared"
	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/reindex"
	"github.com/phrazzld/mailindex/internal/store"
	"github.com/phrazzld/mailindex/internal/task"
)

// ErrInvalidRequest is returned when a request body or parameter cannot be used.
var ErrInvalidRequest = errors.New("invalid request")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.As(err, &validationErrs),
		errors.Is(err, task.ErrInvalidRouting),
		errors.Is(err, mailbox.ErrUnknownItemType),
		errors.Is(err, store.ErrUnknownShard):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, reindex.ErrJobInProgress):
		return http.StatusConflict

	case errors.Is(err, reindex.ErrDriverClosed),
		errors.Is(err, store.ErrConnClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErrs):
		return SanitizeValidationError(validationErrs)
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request"
	case errors.Is(err, task.ErrInvalidRouting):
		return "Invalid account, mailbox or shard"
	case errors.Is(err, mailbox.ErrUnknownItemType):
		return "Unknown item type"
	case errors.Is(err, store.ErrUnknownShard):
		return "Unknown shard"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, reindex.ErrJobInProgress):
		return "A reindex job is already running for this account"
	case errors.Is(err, reindex.ErrDriverClosed),
		errors.Is(err, store.ErrConnClosed):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError renders the first failed field of a validation
// error as a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "Validation error"
	}

	fe := validationErrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "gt", "gte", "min":
		return "too small"
	case "max", "lt", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	case "excluded_with":
		return "conflicts with another field"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and safe message for err.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
