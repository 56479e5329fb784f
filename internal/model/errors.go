package model

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors. Terminal verdicts (block, revise, needs_info) are result
// statuses, not errors; these cover the failures callers branch on with
// errors.Is.
var (
	// ErrInvalidRequest is returned for malformed or incomplete requests before any stage runs.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCircuitOpen is returned when a stage breaker is open.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrVerificationFailed marks a gate that explicitly rejected the artifact.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrTransient marks a retryable downstream failure.
	ErrTransient = errors.New("transient failure")

	// ErrRetriesExhausted is returned when every retry attempt failed transiently.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrAuditWrite is returned when an audit record could not be persisted.
	ErrAuditWrite = errors.New("audit write failed")

	// ErrUnknownRequest is returned for status queries about a request no pipeline has seen.
	ErrUnknownRequest = errors.New("unknown request")
)

// Stable codes carried by RequestError
const (
	CodeUnknownIntent   = "unknown_intent"
	CodeEmptyPayload    = "empty_payload"
	CodeDeadlinePassed  = "deadline_passed"
	CodeInvalidPriority = "invalid_priority"
	CodeImmutable       = "request_immutable"
	CodeInFlight        = "request_in_flight"
	CodeStaleRevision   = "stale_revision"
	CodeMalformed       = "malformed"
)

// RequestError describes why a request was rejected
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request (%s): %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidRequest
func (e *RequestError) Unwrap() error {
	return ErrInvalidRequest
}

// InvalidRequest builds a RequestError
func InvalidRequest(code, format string, args ...any) error {
	return &RequestError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried: explicitly marked
// errors, deadline overruns and network timeouts
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsTransientStatus reports whether an HTTP status code is worth retrying
func IsTransientStatus(code int) bool {
	return code == 429 || (code >= 500 && code < 600)
}
