// Package apierror defines the error taxonomy shared by the admission
// pipeline and the HTTP boundary. Denials are plain error values carrying
// a kind and an HTTP-style status code; the boundary layer inspects them
// with errors.As to produce the response.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the admission taxonomy.
type Kind string

const (
	// KindUnauthenticated marks a bad, expired, or missing credential.
	KindUnauthenticated Kind = "unauthenticated"
	// KindForbidden marks a role, capability, or hierarchy violation.
	KindForbidden Kind = "forbidden"
	// KindQuotaExceeded marks an exhausted or insufficient quota counter.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindNotFound marks an absent target user.
	KindNotFound Kind = "not_found"
	// KindConflict marks a duplicate user id on creation or a no-op update.
	KindConflict Kind = "conflict"
	// KindDownstream marks a failed external provider call.
	KindDownstream Kind = "downstream_failure"
	// KindInternal marks ledger/recorder inconsistencies and misconfiguration.
	KindInternal Kind = "internal"
)

// Error is a tagged rejection with an HTTP-style status code.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind, status, and message.
func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, status int, message string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Err: err}
}

// Unauthenticated builds a 401 rejection.
func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, http.StatusUnauthorized, message)
}

// Forbidden builds a 403 rejection.
func Forbidden(message string) *Error {
	return New(KindForbidden, http.StatusForbidden, message)
}

// QuotaExceeded builds a 429 rejection.
func QuotaExceeded(message string) *Error {
	return New(KindQuotaExceeded, http.StatusTooManyRequests, message)
}

// NotFound builds a 404 rejection.
func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message)
}

// Conflict builds a 409 rejection.
func Conflict(message string) *Error {
	return New(KindConflict, http.StatusConflict, message)
}

// Internal builds a 500 error.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, http.StatusInternalServerError, message, err)
}

// Downstream builds a provider failure. A non-positive status falls back
// to 503, matching the fixed fallback for opaque provider errors.
func Downstream(status int, message string) *Error {
	if status <= 0 {
		status = http.StatusServiceUnavailable
	}
	return New(KindDownstream, status, message)
}

// FromError extracts an *Error from an error chain.
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for an error, defaulting to 500.
func StatusOf(err error) int {
	if apiErr, ok := FromError(err); ok && apiErr.Status > 0 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := FromError(err)
	return ok && apiErr.Kind == kind
}
