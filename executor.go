package rrio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Executor calls a Caller for one request at a time, retrying transient failures under a
// BackoffPolicy. An Executor belongs to one worker and is not shared.
type Executor[Req, Resp any] struct {
	caller         Caller[Req, Resp]
	handle         *handle[Req, Resp]
	policy         BackoffPolicy
	classifier     ErrorClassifier
	callTimeout    time.Duration
	limiter        *rate.Limiter
	breaker        *circuitBreaker[Resp]
	logger         *slog.Logger
	metrics        *Metrics
	workerID       string
	includeRequest bool
}

// ExecutorOption customizes an Executor built with NewExecutor.
type ExecutorOption func(*executorSettings)

type executorSettings struct {
	config   *Config
	metrics  *Metrics
	workerID string
}

// WithExecutorConfig applies transform options to the executor.
func WithExecutorConfig(opts ...Option) ExecutorOption {
	return func(s *executorSettings) {
		for _, opt := range opts {
			opt(s.config)
		}
	}
}

// WithExecutorMetrics records into m instead of a fresh Metrics.
func WithExecutorMetrics(m *Metrics) ExecutorOption {
	return func(s *executorSettings) {
		s.metrics = m
	}
}

// NewExecutor builds a standalone Executor around caller. Transforms build their executors
// internally; this is for callers that drive requests themselves.
//
// The Executor owns caller's lifecycle. When caller implements SetupTeardown, Setup must
// succeed before Execute reaches it and Teardown releases it; calls outside that window fail
// as terminal. Callers without the capability are ready immediately.
//
// Example:
//
//	exec, err := rrio.NewExecutor[Req, Resp](caller, rrio.WithExecutorConfig(
//	    rrio.WithMaxAttempts(5),
//	    rrio.WithExponentialBackoff(100*time.Millisecond, 5*time.Second),
//	))
//	if err != nil {
//	    return err
//	}
//	if err := exec.Setup(ctx); err != nil {
//	    return err
//	}
//	defer exec.Teardown(context.WithoutCancel(ctx))
//	outcome := exec.Execute(ctx, req)
func NewExecutor[Req, Resp any](caller Caller[Req, Resp], opts ...ExecutorOption) (*Executor[Req, Resp], error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}

	s := &executorSettings{config: DefaultConfig(), workerID: uuid.NewString()}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = &Metrics{}
	}
	cfg := s.config
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor configuration: %w", err)
	}

	h := newHandle(caller)
	if h.lifecycle == nil {
		h.setUp = true
	}

	var limiter *rate.Limiter
	if cfg.RateLimit != nil {
		limiter = rate.NewLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Burst)
	}
	var breaker *circuitBreaker[Resp]
	if cfg.CircuitBreaker != nil {
		breaker = newCircuitBreaker[Resp](cfg.Name, cfg.CircuitBreaker, cfg.ErrorClassifier, cfg.Logger)
	}
	exec := newExecutor[Req, Resp](h, cfg, limiter, breaker, s.metrics, s.workerID)
	exec.handle = h
	return exec, nil
}

// Setup runs the Caller's Setup once. A failure is returned as an *InitializationError and
// Execute keeps failing as terminal until a later Setup succeeds. Executors built by a
// Transform are set up by the Transform.
func (e *Executor[Req, Resp]) Setup(ctx context.Context) error {
	if e.handle == nil {
		return nil
	}
	if err := e.handle.setup(ctx); err != nil {
		e.logger.Error("caller setup failed",
			"error", err)
		return &InitializationError{WorkerID: e.workerID, Err: err}
	}
	return nil
}

// Teardown runs the Caller's Teardown once, if Setup succeeded. Execute fails as terminal
// afterwards.
func (e *Executor[Req, Resp]) Teardown(ctx context.Context) error {
	if e.handle == nil {
		return nil
	}
	return e.handle.teardown(ctx)
}

func newExecutor[Req, Resp any](
	caller Caller[Req, Resp],
	cfg *Config,
	limiter *rate.Limiter,
	breaker *circuitBreaker[Resp],
	metrics *Metrics,
	workerID string,
) *Executor[Req, Resp] {
	return &Executor[Req, Resp]{
		caller:         caller,
		policy:         cfg.Backoff,
		classifier:     cfg.ErrorClassifier,
		callTimeout:    cfg.CallTimeout,
		limiter:        limiter,
		breaker:        breaker,
		logger:         cfg.Logger.With("worker_id", workerID),
		metrics:        metrics,
		workerID:       workerID,
		includeRequest: cfg.IncludeRequestInErrors,
	}
}

// Execute resolves req to exactly one Outcome. Transient failures are retried until the
// attempt ceiling, and the last one still serves its wait before the request resolves as
// exhausted. Terminal failures resolve immediately. Cancellation of ctx aborts any pending
// wait and resolves the request as cancelled.
func (e *Executor[Req, Resp]) Execute(ctx context.Context, req Req) Outcome[Req, Resp] {
	state := &retryState{}

	// Check if parent context is already done before attempting any calls
	if err := ctx.Err(); err != nil {
		e.logger.Warn("context already done before call (expected condition)",
			"error", err)
		return e.fail(req, ClassCancelled, KindCancelled, state, err)
	}

	var response Resp
	err := retry.Do(ctx, e.policy.newBackoff(state), func(ctx context.Context) error {
		state.endWait()
		if state.exhausted {
			return state.lastErr
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				state.lastKind, state.lastErr = KindCancelled, err
				return err
			}
		}

		state.beginAttempt()
		e.metrics.recordAttempt(state.attempts)

		resp, err := e.attempt(ctx, req)
		if err == nil {
			if state.attempts > 1 {
				e.logger.Info("call succeeded after retry",
					"attempts", state.attempts)
			}
			response = resp
			return nil
		}

		kind := e.kindOf(ctx, err)
		state.lastKind, state.lastErr = kind, err
		if !kind.Retryable() {
			e.logger.Debug("non-retryable failure, giving up",
				"kind", kind.String(),
				"error", err,
				"attempts", state.attempts)
			return err
		}

		if state.attempts >= e.policy.Attempts() {
			e.logger.Debug("attempt ceiling reached, backing off before giving up",
				"attempts", state.attempts,
				"kind", kind.String(),
				"error", err)
		} else {
			e.logger.Debug("retrying call after delay",
				"attempt", state.attempts,
				"kind", kind.String(),
				"error", err)
		}
		return retry.RetryableError(err)
	})
	state.endWait()

	if err == nil {
		e.metrics.recordOutcome("", true, nil, state.backoff)
		return Succeeded(Result[Req, Resp]{
			Request:  req,
			Response: response,
			Attempts: state.attempts,
		})
	}

	switch {
	case ctx.Err() != nil || state.lastKind == KindCancelled:
		if state.lastErr != nil && !errors.Is(err, state.lastErr) {
			err = fmt.Errorf("%w (last failure: %w)", err, state.lastErr)
		}
		e.logger.Warn("call cancelled (expected condition)",
			"attempts", state.attempts,
			"error", err)
		return e.fail(req, ClassCancelled, KindCancelled, state, err)
	case state.lastKind.Retryable():
		e.logger.Warn("call failed after retries",
			"attempts", state.attempts,
			"kind", state.lastKind.String(),
			"error", err)
		return e.fail(req, ClassExhaustedRetries, state.lastKind, state, err)
	default:
		return e.fail(req, ClassTerminal, state.lastKind, state, err)
	}
}

// attempt makes exactly one external call under the per-attempt deadline.
func (e *Executor[Req, Resp]) attempt(ctx context.Context, req Req) (Resp, error) {
	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	call := func() (resp Resp, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = Terminal(fmt.Errorf("caller panicked: %v", r))
			}
		}()
		return e.caller.Call(callCtx, req)
	}

	var (
		resp Resp
		err  error
	)
	if e.breaker != nil {
		resp, err = e.breaker.execute(call)
	} else {
		resp, err = call()
	}
	if err == nil {
		return resp, nil
	}

	// A deadline hit on the attempt while the parent is alive is a timeout of this call.
	var callErr *CallError
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.As(err, &callErr) {
		err = Timeout(fmt.Errorf("%w: %w",
			jperrors.NewTimeoutError("call timed out", "call", e.callTimeout), err))
	}
	return resp, err
}

func (e *Executor[Req, Resp]) kindOf(ctx context.Context, err error) FailureKind {
	if ctx.Err() != nil {
		return KindCancelled
	}
	return classify(e.classifier, err)
}

func (e *Executor[Req, Resp]) fail(
	req Req,
	class Classification,
	kind FailureKind,
	state *retryState,
	err error,
) Outcome[Req, Resp] {
	rec := ErrorRecord[Req]{
		ID:             uuid.NewString(),
		Classification: class,
		Kind:           kind,
		KindName:       kind.String(),
		Attempts:       state.attempts,
		Backoff:        state.backoff,
		WorkerID:       e.workerID,
		Timestamp:      time.Now().UTC(),
		err:            err,
	}
	if err != nil {
		rec.Message = err.Error()
	}
	if e.includeRequest {
		r := req
		rec.Request = &r
	}
	e.metrics.recordOutcome(class, false, err, state.backoff)
	return Failed[Req, Resp](rec)
}
