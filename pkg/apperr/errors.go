// Package apperr provides the unified error taxonomy for the GoEats
// services. Every kind maps to one stable HTTP status and one problem
// type URI, so handlers and middleware translate errors mechanically.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an error category
type Kind string

const (
	KindInvalidInput           Kind = "invalid-input"
	KindEntityNotFound         Kind = "entity-not-found"
	KindInvalidStateTransition Kind = "invalid-state-transition"
	KindDuplicateRequest       Kind = "duplicate-request"
	KindStaleLock              Kind = "stale-lock"
	KindRateLimitExceeded      Kind = "rate-limit-exceeded"
	KindBulkheadFull           Kind = "bulkhead-full"
	KindCircuitBreakerOpen     Kind = "circuit-breaker-open"
	KindServiceUnavailable     Kind = "service-unavailable"
	KindRequestTimeout         Kind = "request-timeout"
	KindInternal               Kind = "internal"
)

const typeURIBase = "https://goeats.dev/problems/"

var kindStatus = map[Kind]int{
	KindInvalidInput:           http.StatusBadRequest,
	KindEntityNotFound:         http.StatusNotFound,
	KindInvalidStateTransition: http.StatusBadRequest,
	KindDuplicateRequest:       http.StatusConflict,
	KindStaleLock:              http.StatusConflict,
	KindRateLimitExceeded:      http.StatusTooManyRequests,
	KindBulkheadFull:           http.StatusServiceUnavailable,
	KindCircuitBreakerOpen:     http.StatusServiceUnavailable,
	KindServiceUnavailable:     http.StatusServiceUnavailable,
	KindRequestTimeout:         http.StatusGatewayTimeout,
	KindInternal:               http.StatusInternalServerError,
}

// Error is a structured error carrying its taxonomy kind. The zero Kind
// is treated as KindInternal.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for the error's kind.
func (e *Error) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// TypeURI returns the stable problem type URI for the error's kind.
func (e *Error) TypeURI() string {
	return typeURIBase + string(e.Kind)
}

// New creates a new Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates a new Error of the given kind around err.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Newf creates a new Error with a formatted detail message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Constructors per kind.

func InvalidInput(detail string) *Error {
	return New(KindInvalidInput, detail)
}

func EntityNotFound(entity, id string) *Error {
	return Newf(KindEntityNotFound, "%s %s not found", entity, id)
}

func InvalidStateTransition(detail string) *Error {
	return New(KindInvalidStateTransition, detail)
}

func DuplicateRequest(key string) *Error {
	return Newf(KindDuplicateRequest, "idempotency key %q already used", key)
}

func StaleLock(resource string, token int64) *Error {
	return Newf(KindStaleLock, "fencing rejected write to %s with token %d", resource, token)
}

func RateLimitExceeded(caller string) *Error {
	return Newf(KindRateLimitExceeded, "rate limit exceeded for %s", caller)
}

func BulkheadFull(op string) *Error {
	return Newf(KindBulkheadFull, "concurrency limit reached for %s", op)
}

func CircuitBreakerOpen(op string) *Error {
	return Newf(KindCircuitBreakerOpen, "circuit open for %s", op)
}

func ServiceUnavailable(detail string) *Error {
	return New(KindServiceUnavailable, detail)
}

func RequestTimeout(op string) *Error {
	return Newf(KindRequestTimeout, "deadline elapsed for %s", op)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal error", err)
}
