package rrio

import (
	"context"
	"errors"
	"sync"
)

// errNotSetUp is returned when a handle is used before a successful Setup.
var errNotSetUp = errors.New("caller used before setup")

// handle owns one worker's Caller for the worker's whole lifetime. When the Caller implements
// SetupTeardown, the handle guarantees Setup runs once before any call and Teardown runs once
// after the last, and only for a caller whose Setup succeeded.
type handle[Req, Resp any] struct {
	caller    Caller[Req, Resp]
	lifecycle SetupTeardown

	mu       sync.Mutex
	setUp    bool
	tornDown bool
}

func newHandle[Req, Resp any](caller Caller[Req, Resp]) *handle[Req, Resp] {
	h := &handle[Req, Resp]{caller: caller}
	if lc, ok := caller.(SetupTeardown); ok {
		h.lifecycle = lc
	}
	return h
}

// setup runs the caller's Setup once. Later calls return nil without running it again.
func (h *handle[Req, Resp]) setup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.setUp {
		return nil
	}
	if h.lifecycle != nil {
		if err := h.lifecycle.Setup(ctx); err != nil {
			return err
		}
	}
	h.setUp = true
	return nil
}

// teardown runs the caller's Teardown once, if Setup succeeded.
func (h *handle[Req, Resp]) teardown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.setUp || h.tornDown {
		return nil
	}
	h.tornDown = true
	if h.lifecycle == nil {
		return nil
	}
	return h.lifecycle.Teardown(ctx)
}

// ready reports whether calls may be made through the handle.
func (h *handle[Req, Resp]) ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setUp && !h.tornDown
}

// Call implements Caller, refusing calls outside the set-up window.
func (h *handle[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	if !h.ready() {
		var zero Resp
		return zero, Terminal(errNotSetUp)
	}
	return h.caller.Call(ctx, req)
}
