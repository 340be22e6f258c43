// Package errors provides structured errors that carry a category, a
// retryable flag and context fields, and map onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error, used for the status code and for metrics.
type ErrorType string

const (
	// TypeValidation indicates a malformed command or field (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates an unknown match, player or set (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates a stale expected revision (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeInternal indicates a server-side fault, including persistence (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates a failing upstream dependency (HTTP 502)
	TypeExternal ErrorType = "external"
	// TypeRateLimited indicates a client sending commands too fast (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
)

// Error is a structured error with type, message, optional cause and context.
type Error struct {
	Type      ErrorType
	Message   string
	Cause     error
	Retryable bool
	Context   map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for the error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeExternal:
		return http.StatusBadGateway
	case TypeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

// RateLimitedError creates a retryable throttling error (HTTP 429).
func RateLimitedError(message string) *Error {
	e := newError(TypeRateLimited, message, nil)
	e.Retryable = true
	return e
}

// ValidationError creates a validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// NotFoundError creates a not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

// ConflictError creates a conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

// InternalError creates an internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// PersistenceError creates a retryable internal error for a failed store write.
func PersistenceError(message string, cause error) *Error {
	err := newError(TypeInternal, message, cause)
	err.Retryable = true
	return err
}

// ExternalError creates an upstream dependency error (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithField adds a context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Type      ErrorType      `json:"type"`
	Retryable bool           `json:"retryable,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Type:      e.Type,
		Retryable: e.Retryable,
		Context:   e.Context,
	}
}

// AsStructuredError returns err as an *Error, wrapping unknown errors as internal.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

// IsType reports whether err is a structured error of type t.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}
