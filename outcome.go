package rrio

import (
	"time"
)

// Classification labels why a request ended on the failure output.
type Classification string

const (
	// ClassTerminal means the caller signalled an unrecoverable failure.
	ClassTerminal Classification = "terminal"

	// ClassExhaustedRetries means every allowed attempt failed transiently.
	ClassExhaustedRetries Classification = "exhausted-retries"

	// ClassCancelled means the transform shut down before the request resolved.
	ClassCancelled Classification = "cancelled"
)

// Result pairs a request with the response produced for it.
type Result[Req, Resp any] struct {
	Request  Req  `json:"request"`
	Response Resp `json:"response"`

	// Cached is true when the response came from the cache without an external call.
	Cached bool `json:"cached"`

	// Attempts is the number of external calls made for this request.
	Attempts int `json:"attempts"`
}

// ErrorRecord describes a request that ended on the failure output. Records are values;
// nothing in this package mutates one after it is built.
type ErrorRecord[Req any] struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// Request is the original request. Only set when requests are included in errors
	// (the default); see WithRequestInErrors.
	Request *Req `json:"request,omitempty"`

	// Classification is terminal, exhausted-retries or cancelled.
	Classification Classification `json:"classification"`

	// Kind is the kind of the last failure observed.
	Kind FailureKind `json:"-"`

	// KindName is the string form of Kind, kept for serialized records.
	KindName string `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Attempts is the number of external calls made before the request gave up.
	Attempts int `json:"attempts"`

	// Backoff is the total time spent waiting after failed attempts, the last one included.
	Backoff time.Duration `json:"backoff,format:units"`

	// WorkerID identifies the worker that processed the request.
	WorkerID string `json:"worker_id"`

	// Timestamp is when the record was created.
	Timestamp time.Time `json:"timestamp"`

	err error
}

// Err returns the underlying error of the last failure.
func (r ErrorRecord[Req]) Err() error {
	return r.err
}

// Outcome is the tagged result of processing one request. Exactly one of Success or
// Failure is set.
type Outcome[Req, Resp any] struct {
	success *Result[Req, Resp]
	failure *ErrorRecord[Req]
}

// Succeeded builds a success outcome.
func Succeeded[Req, Resp any](res Result[Req, Resp]) Outcome[Req, Resp] {
	return Outcome[Req, Resp]{success: &res}
}

// Failed builds a failure outcome.
func Failed[Req, Resp any](rec ErrorRecord[Req]) Outcome[Req, Resp] {
	return Outcome[Req, Resp]{failure: &rec}
}

// Success returns the result and true when the outcome is a success.
func (o Outcome[Req, Resp]) Success() (Result[Req, Resp], bool) {
	if o.success == nil {
		return Result[Req, Resp]{}, false
	}
	return *o.success, true
}

// Failure returns the error record and true when the outcome is a failure.
func (o Outcome[Req, Resp]) Failure() (ErrorRecord[Req], bool) {
	if o.failure == nil {
		return ErrorRecord[Req]{}, false
	}
	return *o.failure, true
}

// IsSuccess reports whether the outcome is a success.
func (o Outcome[Req, Resp]) IsSuccess() bool {
	return o.success != nil
}
