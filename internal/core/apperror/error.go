// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Allocation, storage and API errors all surface as *AppError so callers can
// branch on Code and the HTTP layer can render a consistent body.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal         = "INTERNAL_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeMalformedCounter = "MALFORMED_COUNTER_RECORD"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeTransactionConflict = "TRANSACTION_CONFLICT"
	CodeIdempotency         = "IDEMPOTENCY_CONFLICT"
	CodeSequenceRewind      = "SEQUENCE_REWIND"
)

// AppError is the standard error type for the service.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (sequence name, attempts, ...)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewTransactionConflict is returned when a store could not serialize a
// transaction within its retry budget.
func NewTransactionConflict(sequence string, attempts int) *AppError {
	return &AppError{
		Code:       CodeTransactionConflict,
		Message:    "counter transaction could not be committed, try again",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"sequence": sequence, "attempts": attempts},
	}
}

// NewSequenceRewind is returned when a seed would make the allocator issue
// numbers it has already issued.
func NewSequenceRewind(sequence, reason string) *AppError {
	return &AppError{
		Code:       CodeSequenceRewind,
		Message:    fmt.Sprintf("seeding %q would reissue numbers: %s", sequence, reason),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"sequence": sequence, "reason": reason},
	}
}

// NewStoreUnavailable wraps connectivity failures to the counter store.
func NewStoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "counter store is unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewMalformedCounter reports a stored counter that lacks valid fields.
func NewMalformedCounter(sequence, reason string) *AppError {
	return &AppError{
		Code:       CodeMalformedCounter,
		Message:    fmt.Sprintf("counter %q is malformed: %s", sequence, reason),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"sequence": sequence, "reason": reason},
	}
}

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different user/operation/body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsTransactionConflict checks if error is CodeTransactionConflict
func IsTransactionConflict(err error) bool {
	return HasCode(err, CodeTransactionConflict)
}

// IsStoreUnavailable checks if error is CodeStoreUnavailable
func IsStoreUnavailable(err error) bool {
	return HasCode(err, CodeStoreUnavailable)
}

// IsMalformedCounter checks if error is CodeMalformedCounter
func IsMalformedCounter(err error) bool {
	return HasCode(err, CodeMalformedCounter)
}
