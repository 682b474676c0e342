// Package errors defines structured error types for the QuotaFlow rate-limiting service.
// Errors carry a stable code, an HTTP status, and optional cause and metadata so the
// transport layer can render them without inspecting error strings.
package errors

import (
	"fmt"
	"net/http"

	"github.com/quotaflow/quotaflow/pkg/constants"
)

// AppError represents a structured application error.
type AppError struct {
	code       constants.ErrorCode
	httpStatus int
	message    string
	cause      error
	metadata   map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the stable error code.
func (e *AppError) Code() constants.ErrorCode {
	return e.code
}

// HTTPStatus returns the HTTP status code associated with the error.
func (e *AppError) HTTPStatus() int {
	return e.httpStatus
}

// Unwrap returns the underlying cause for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error to the error chain.
func (e *AppError) WithCause(cause error) *AppError {
	e.cause = cause
	return e
}

// WithMetadata attaches additional context metadata.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all metadata attached to the error.
func (e *AppError) Metadata() map[string]interface{} {
	return e.metadata
}

// NewError creates a new AppError with the given code, status, and message.
func NewError(code constants.ErrorCode, httpStatus int, message string) *AppError {
	return &AppError{
		code:       code,
		httpStatus: httpStatus,
		message:    message,
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInvalidConfig creates an invalid_config error. Configuration errors are
// fatal at startup.
func ErrInvalidConfig(format string, args ...interface{}) *AppError {
	return NewError(constants.ErrorCodeInvalidConfig, http.StatusInternalServerError, fmt.Sprintf(format, args...))
}

// ErrInvalidRequest creates an invalid_request error.
func ErrInvalidRequest(message string) *AppError {
	return NewError(constants.ErrorCodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrStoreUnavailable creates a store_unavailable error for quota store
// operational failures. These are swallowed at the resilient limiter boundary
// and never surface to request handlers.
func ErrStoreUnavailable(message string) *AppError {
	return NewError(constants.ErrorCodeStoreUnavailable, http.StatusServiceUnavailable, message)
}

// ErrRateLimited creates a rate_limit_exceeded error.
func ErrRateLimited(message string) *AppError {
	return NewError(constants.ErrorCodeRateLimited, http.StatusTooManyRequests, message)
}

// ErrNotFound creates a not_found error.
func ErrNotFound(message string) *AppError {
	return NewError(constants.ErrorCodeNotFound, http.StatusNotFound, message)
}

// ErrInternal creates an internal_error.
func ErrInternal(message string) *AppError {
	return NewError(constants.ErrorCodeInternal, http.StatusInternalServerError, message)
}
