// Package rrio provides a generic request/response transform for calling external systems
// from data-parallel workers. Each request is resolved to exactly one outcome: a response on
// the success output, or an ErrorRecord on the failure output. Transient failures are retried
// with capped exponential backoff, responses can be cached by request fingerprint, and each
// worker owns a caller whose setup and teardown are managed for it.
package rrio

import (
	"context"
)

// Caller performs a single external call for one request.
// Type parameters Req and Resp can be any types, making this suitable for HTTP clients, gRPC
// clients, database lookups, or any other request/response interaction.
//
// Failures should be signalled with Terminal, Quota, RemoteSystem or Timeout. Untagged errors
// are resolved by the configured ErrorClassifier.
//
// Example:
//
//	type LookupCaller struct {
//	    client *http.Client
//	}
//
//	func (c *LookupCaller) Call(ctx context.Context, id string) (Item, error) {
//	    resp, err := c.client.Do(newLookupRequest(ctx, id))
//	    if err != nil {
//	        return Item{}, rrio.RemoteSystem(err)
//	    }
//	    ...
//	}
type Caller[Req, Resp any] interface {
	// Call performs one attempt. The context carries the per-attempt deadline and is
	// canceled when the transform shuts down.
	Call(ctx context.Context, req Req) (Resp, error)
}

// SetupTeardown is the optional lifecycle capability of a Caller. When the Caller returned by a
// CallerFactory implements it, Setup runs once before the worker's first call and Teardown
// runs once when the worker retires.
type SetupTeardown interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// CallerFactory builds the Caller owned by one worker. It is invoked once per worker, so
// per-worker resources (clients, connections) are never shared between workers.
type CallerFactory[Req, Resp any] func() Caller[Req, Resp]

// CallerFunc adapts a plain function to the Caller interface.
type CallerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Call implements Caller.
func (f CallerFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Stateless returns a CallerFactory that hands the same Caller to every worker. Use it only
// for callers without per-worker state; lifecycle-aware callers should be built fresh in a
// CallerFactory instead.
func Stateless[Req, Resp any](c Caller[Req, Resp]) CallerFactory[Req, Resp] {
	return func() Caller[Req, Resp] {
		return c
	}
}
