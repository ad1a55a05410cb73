package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a category of error for programmatic handling.
type ErrorCode string

const (
	// ErrInvalidRequest indicates a malformed or invalid request.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrAuthentication indicates missing or invalid credentials.
	ErrAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	// ErrRateLimit indicates an upstream or local rate limit was hit.
	ErrRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrUpstreamTimeout indicates an upstream call exceeded its deadline.
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	// ErrUpstreamError indicates an upstream provider returned a failure.
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"
	// ErrProviderUnavailable indicates a provider cannot be reached.
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// ErrServiceUnavailable indicates this service cannot serve the request.
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrInternalError indicates an unexpected internal failure.
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error with a stable code, an HTTP status hint,
// a retryability flag, and an optional wrapped cause.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches a wrapped cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus attaches an HTTP status hint.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable or not.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider attaches the provider name that produced the error.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable reports whether err is a retryable structured error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the structured code from err, or ErrInternalError.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternalError
}
