package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/prism-api/internal/api/shared"
	"github.com/phrazzld/prism-api/internal/coordinator"
	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/generation"
	"github.com/phrazzld/prism-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidStrategy),
		errors.Is(err, domain.ErrInvalidMode):
		return http.StatusBadRequest

	case errors.Is(err, coordinator.ErrUnknownWorker),
		errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, generation.ErrContentBlocked):
		return http.StatusUnprocessableEntity

	case errors.Is(err, task.ErrQueueFull):
		return http.StatusTooManyRequests

	case errors.Is(err, coordinator.ErrQueueUnavailable),
		errors.Is(err, task.ErrQueueClosed),
		errors.Is(err, generation.ErrTransientFailure):
		return http.StatusServiceUnavailable

	case errors.Is(err, coordinator.ErrAggregationFailed):
		return http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, task.ErrTaskTimeout),
		errors.Is(err, task.ErrWaitTimeout):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err that carries no
// internal detail.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, domain.ErrEmptyInput):
		return "Input cannot be empty"
	case errors.Is(err, domain.ErrInvalidStrategy):
		return "Unknown aggregation strategy"
	case errors.Is(err, domain.ErrInvalidMode):
		return "Unknown dispatch mode"
	case errors.Is(err, domain.ErrValidation):
		return "Invalid request"
	case errors.Is(err, coordinator.ErrUnknownWorker):
		return "Unknown worker"
	case errors.Is(err, generation.ErrContentBlocked):
		return "Input was rejected by the content safety filter"
	case errors.Is(err, task.ErrQueueFull):
		return "Too many queued runs, try again later"
	case errors.Is(err, coordinator.ErrQueueUnavailable),
		errors.Is(err, task.ErrQueueClosed):
		return "Queued runs are unavailable"
	case errors.Is(err, generation.ErrTransientFailure):
		return "A worker is temporarily unavailable"
	case errors.Is(err, coordinator.ErrAggregationFailed):
		return "No worker produced a usable result"
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, task.ErrTaskTimeout),
		errors.Is(err, task.ErrWaitTimeout):
		return "The run timed out"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for a failed operation. When
// fallbackMsg is non-empty it replaces the generic message for errors that
// map to 500.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMsg != "" {
		msg = fallbackMsg
	}

	var opts []shared.ResponseOption
	if status == http.StatusBadGateway {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err, opts...)
}

// SanitizeValidationError turns a validator error into a short message that
// names the offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", jsonFieldName(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func jsonFieldName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	case "dive":
		return "invalid item"
	default:
		return "validation failed"
	}
}
