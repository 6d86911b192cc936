package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("conflict")
	ErrInternal      = errors.New("internal error")
	ErrValidation    = errors.New("validation error")
	ErrInvalidSignal = errors.New("invalid signal data")
	ErrInsight       = errors.New("insight generation failed")
	ErrConcurrent    = errors.New("concurrent mutation conflict")
	ErrPersistence   = errors.New("persistence unavailable")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// InvalidSignalData creates an error for malformed or out-of-range signal
// input. The offending entity and fields are carried in Details so the caller
// can identify the record; corrupt upstream data is rejected, never scored.
func InvalidSignalData(entity string, details map[string]string) *AppError {
	if details == nil {
		details = map[string]string{}
	}
	details["entity"] = entity
	return &AppError{
		Err:        ErrInvalidSignal,
		Message:    "signal snapshot failed validation",
		Code:       "INVALID_SIGNAL_DATA",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// InsightGenerationFailed creates an error for a failed or timed-out call to
// the external text-generation service. Safe to retry; never cached.
func InsightGenerationFailed(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrInsight, err),
		Message:    "insight generation failed",
		Code:       "INSIGHT_GENERATION_FAILED",
		HTTPStatus: http.StatusBadGateway,
	}
}

// ConcurrentMutationConflict creates an error for two writers racing on one
// entity's alert state. The losing writer retries its alert mutation against
// a fresh read; already-committed score history is never re-appended.
func ConcurrentMutationConflict(entity string) *AppError {
	return &AppError{
		Err:        ErrConcurrent,
		Message:    "concurrent mutation detected, retry the evaluation tick",
		Code:       "CONCURRENT_MUTATION",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"entity": entity},
	}
}

// PersistenceUnavailable creates an error for an unreachable storage
// collaborator. The tick for the affected entities fails closed.
func PersistenceUnavailable(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrPersistence, err),
		Message:    "storage unavailable",
		Code:       "PERSISTENCE_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}
