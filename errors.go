package rrio

import (
	"context"
	"errors"
	"fmt"
	"net"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// FailureKind identifies why a single call attempt failed.
type FailureKind int

const (
	// KindTerminal is an unrecoverable failure such as a malformed request or a permanent
	// rejection. It is never retried.
	KindTerminal FailureKind = iota

	// KindQuota means a quota or rate limit was exceeded. Retryable.
	KindQuota

	// KindRemoteSystem means the remote system failed or was unreachable. Retryable.
	KindRemoteSystem

	// KindTimeout means the attempt did not complete in time. Retryable.
	KindTimeout

	// KindCancelled means the transform was shut down while the request was in flight.
	KindCancelled
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindQuota:
		return "quota"
	case KindRemoteSystem:
		return "remote-system"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind are eligible for backoff and retry.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindQuota, KindRemoteSystem, KindTimeout:
		return true
	default:
		return false
	}
}

// CallError is a failure tagged with its FailureKind. Callers return it through the Terminal,
// Quota, RemoteSystem and Timeout constructors.
type CallError struct {
	Kind FailureKind
	Err  error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " failure"
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Terminal marks err as an unrecoverable failure. The request fails immediately.
func Terminal(err error) error {
	return &CallError{Kind: KindTerminal, Err: err}
}

// Quota marks err as a quota or rate limit failure.
func Quota(err error) error {
	return &CallError{Kind: KindQuota, Err: err}
}

// RemoteSystem marks err as a failure of the remote system.
func RemoteSystem(err error) error {
	return &CallError{Kind: KindRemoteSystem, Err: err}
}

// Timeout marks err as a timed out attempt.
func Timeout(err error) error {
	return &CallError{Kind: KindTimeout, Err: err}
}

// InitializationError reports that a worker's caller could not be set up. It is fatal to the
// transform run and is never emitted as a per-element ErrorRecord.
type InitializationError struct {
	WorkerID string
	Err      error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("worker %s initialization failed: %v", e.WorkerID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ErrorClassifier resolves untagged errors returned by a Caller into a FailureKind.
// Errors created with Terminal, Quota, RemoteSystem or Timeout bypass the classifier.
type ErrorClassifier interface {
	Classify(err error) FailureKind
}

// ClassifierFunc adapts a function to the ErrorClassifier interface.
type ClassifierFunc func(err error) FailureKind

// Classify implements ErrorClassifier.
func (f ClassifierFunc) Classify(err error) FailureKind {
	return f(err)
}

// HTTPError represents an error with an associated HTTP status code.
// Many HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// HTTPStatusClassifier provides HTTP status code-based error classification, plus the
// jp-go-errors sentinels and network errors.
type HTTPStatusClassifier struct {
	// QuotaStatuses lists status codes classified as KindQuota.
	// Defaults to 429 if nil.
	QuotaStatuses []int

	// TimeoutStatuses lists status codes classified as KindTimeout.
	// Defaults to 408, 504 if nil.
	TimeoutStatuses []int

	// RemoteSystemStatuses lists status codes classified as KindRemoteSystem.
	// Defaults to 500, 502, 503 if nil.
	RemoteSystemStatuses []int
}

// NewHTTPStatusClassifier creates a new HTTPStatusClassifier with default status code mappings.
// Quota: 429. Timeout: 408, 504. Remote system: 500, 502, 503. Anything else is terminal.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		QuotaStatuses:        []int{429},
		TimeoutStatuses:      []int{408, 504},
		RemoteSystemStatuses: []int{500, 502, 503},
	}
}

// Classify implements ErrorClassifier.
func (c *HTTPStatusClassifier) Classify(err error) FailureKind {
	if err == nil {
		return KindTerminal
	}

	// Check jp-go-errors sentinel errors
	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return KindQuota
	}
	if pkgerrors.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	if statusCode := extractStatusCode(err); statusCode != 0 {
		switch {
		case containsStatus(c.getQuotaStatuses(), statusCode):
			return KindQuota
		case containsStatus(c.getTimeoutStatuses(), statusCode):
			return KindTimeout
		case containsStatus(c.getRemoteSystemStatuses(), statusCode):
			return KindRemoteSystem
		default:
			return KindTerminal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindRemoteSystem
	}

	// Untagged errors without a status are treated as defects, not transient conditions.
	return KindTerminal
}

func (c *HTTPStatusClassifier) getQuotaStatuses() []int {
	if c.QuotaStatuses != nil {
		return c.QuotaStatuses
	}
	return []int{429}
}

func (c *HTTPStatusClassifier) getTimeoutStatuses() []int {
	if c.TimeoutStatuses != nil {
		return c.TimeoutStatuses
	}
	return []int{408, 504}
}

func (c *HTTPStatusClassifier) getRemoteSystemStatuses() []int {
	if c.RemoteSystemStatuses != nil {
		return c.RemoteSystemStatuses
	}
	return []int{500, 502, 503}
}

// extractStatusCode attempts to extract an HTTP status code from the error chain.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// containsStatus checks if a status code is in the list.
func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultErrorClassifier returns the classifier used when none is configured.
func DefaultErrorClassifier() ErrorClassifier {
	return NewHTTPStatusClassifier()
}

// classify resolves err to a FailureKind, preferring an explicit CallError tag.
func classify(classifier ErrorClassifier, err error) FailureKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return classifier.Classify(err)
}

// StatusCodeError wraps an error with an HTTP status code.
// Use this when you need to add status code information to an existing error.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
//
// Example:
//
//	if resp.StatusCode >= 400 {
//	    return Item{}, rrio.NewStatusCodeError(resp.StatusCode, errors.New(resp.Status))
//	}
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}
