// Package errors provides the API error type used across handlers and services.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// Error carries an HTTP status, a stable kind and a human readable message.
type Error struct {
	Status  int          `json:"-"`
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status for the error, defaulting to 500.
func (e *Error) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// WithCause attaches an underlying error without changing the API shape.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithField appends a field-level validation detail.
func (e *Error) WithField(field, message string) *Error {
	clone := *e
	clone.Fields = append(clone.Fields, FieldError{Field: field, Message: message})
	return &clone
}

func newError(status int, kind, message string) *Error {
	return &Error{Status: status, Kind: kind, Message: message}
}

// Invalid returns a 400 error for malformed or policy-violating input.
func Invalid(message string) *Error {
	return newError(http.StatusBadRequest, "invalid_request", message)
}

// Unauthorized returns a 401 error. The message stays generic for
// credential failures so callers cannot probe which part was wrong.
func Unauthorized(message string) *Error {
	return newError(http.StatusUnauthorized, "unauthorized", message)
}

// Forbidden returns a 403 error for role or ownership violations.
func Forbidden(message string) *Error {
	return newError(http.StatusForbidden, "forbidden", message)
}

// NotFound returns a 404 error.
func NotFound(message string) *Error {
	return newError(http.StatusNotFound, "not_found", message)
}

// Conflict returns a 409 error for uniqueness violations.
func Conflict(message string) *Error {
	return newError(http.StatusConflict, "conflict", message)
}

// RateLimited returns a 429 error.
func RateLimited(message string) *Error {
	return newError(http.StatusTooManyRequests, "rate_limited", message)
}

// Internal returns a 500 error wrapping an unexpected failure.
func Internal(cause error) *Error {
	return newError(http.StatusInternalServerError, "internal", "internal server error").WithCause(cause)
}

// FromError maps an arbitrary error to an *Error, passing through values
// that already carry a status.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
