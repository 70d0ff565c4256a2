package rrio

import (
	"errors"
	"sync"
)

// Emitter receives the two outputs of the transform. Implementations must be safe for
// concurrent use, since every worker emits through the same Emitter.
type Emitter[Req, Resp any] interface {
	EmitResponse(res Result[Req, Resp])
	EmitError(rec ErrorRecord[Req])
}

// errEmptyOutcome is returned when partitioning a zero Outcome.
var errEmptyOutcome = errors.New("outcome has neither a result nor an error record")

// Partition routes an outcome to exactly one output of the emitter.
func Partition[Req, Resp any](out Outcome[Req, Resp], em Emitter[Req, Resp]) error {
	if res, ok := out.Success(); ok {
		em.EmitResponse(res)
		return nil
	}
	if rec, ok := out.Failure(); ok {
		em.EmitError(rec)
		return nil
	}
	return errEmptyOutcome
}

// Collector is an Emitter that accumulates both outputs in memory.
type Collector[Req, Resp any] struct {
	mu        sync.Mutex
	responses []Result[Req, Resp]
	errors    []ErrorRecord[Req]
}

// EmitResponse implements Emitter.
func (c *Collector[Req, Resp]) EmitResponse(res Result[Req, Resp]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, res)
}

// EmitError implements Emitter.
func (c *Collector[Req, Resp]) EmitError(rec ErrorRecord[Req]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, rec)
}

// Responses returns a copy of the collected results.
func (c *Collector[Req, Resp]) Responses() []Result[Req, Resp] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result[Req, Resp], len(c.responses))
	copy(out, c.responses)
	return out
}

// Errors returns a copy of the collected error records.
func (c *Collector[Req, Resp]) Errors() []ErrorRecord[Req] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorRecord[Req], len(c.errors))
	copy(out, c.errors)
	return out
}

// ChannelEmitter is an Emitter that sends each output on its own channel. Sends block, so
// both channels must be drained for the transform to make progress.
type ChannelEmitter[Req, Resp any] struct {
	responses chan Result[Req, Resp]
	errors    chan ErrorRecord[Req]
	closeOnce sync.Once
}

// NewChannelEmitter creates a ChannelEmitter whose channels hold up to buffer items each.
func NewChannelEmitter[Req, Resp any](buffer int) *ChannelEmitter[Req, Resp] {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelEmitter[Req, Resp]{
		responses: make(chan Result[Req, Resp], buffer),
		errors:    make(chan ErrorRecord[Req], buffer),
	}
}

// EmitResponse implements Emitter.
func (e *ChannelEmitter[Req, Resp]) EmitResponse(res Result[Req, Resp]) {
	e.responses <- res
}

// EmitError implements Emitter.
func (e *ChannelEmitter[Req, Resp]) EmitError(rec ErrorRecord[Req]) {
	e.errors <- rec
}

// Responses returns the success channel.
func (e *ChannelEmitter[Req, Resp]) Responses() <-chan Result[Req, Resp] {
	return e.responses
}

// Errors returns the failure channel.
func (e *ChannelEmitter[Req, Resp]) Errors() <-chan ErrorRecord[Req] {
	return e.errors
}

// Close closes both channels. It must only be called once nothing emits anymore.
func (e *ChannelEmitter[Req, Resp]) Close() {
	e.closeOnce.Do(func() {
		close(e.responses)
		close(e.errors)
	})
}
