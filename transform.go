package rrio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Transform applies a Caller to a stream of requests across parallel workers, routing every
// request to exactly one of two outputs: a Result on success or an ErrorRecord on failure.
//
// A Transform is safe for concurrent use. Each Run builds fresh workers, each with its own
// Caller from the CallerFactory; the cache, rate limiter and circuit breaker are shared.
type Transform[Req, Resp any] struct {
	config      *Config
	factory     CallerFactory[Req, Resp]
	cache       Cache[Resp]
	fingerprint Fingerprinter[Req]
	limiter     *rate.Limiter
	breaker     *circuitBreaker[Resp]

	mu      sync.Mutex
	live    map[string]*Metrics
	retired Stats
}

// New creates a Transform that builds one Caller per worker with factory.
//
// Example:
//
//	t, err := rrio.New(
//	    func() rrio.Caller[string, Item] { return &LookupCaller{} },
//	    rrio.WithWorkers(4),
//	    rrio.WithMaxAttempts(5),
//	    rrio.WithExponentialBackoff(100*time.Millisecond, 5*time.Second),
//	    rrio.WithCache(rrio.NewMemoryCache[Item](10_000, time.Hour)),
//	)
//	if err != nil {
//	    return err
//	}
//	out, err := t.Apply(ctx, ids)
func New[Req, Resp any](factory CallerFactory[Req, Resp], opts ...Option) (*Transform[Req, Resp], error) {
	if factory == nil {
		return nil, errors.New("caller factory is required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform configuration: %w", err)
	}
	cfg.Logger = cfg.Logger.With("transform", cfg.Name)

	t := &Transform[Req, Resp]{
		config:      cfg,
		factory:     factory,
		fingerprint: JSONFingerprint[Req],
		live:        make(map[string]*Metrics),
	}

	if cfg.cache != nil {
		cache, ok := cfg.cache.(Cache[Resp])
		if !ok {
			var zero Resp
			return nil, fmt.Errorf("cache %T does not hold responses of type %T", cfg.cache, zero)
		}
		t.cache = cache
	}
	if cfg.fingerprinter != nil {
		fp, ok := cfg.fingerprinter.(Fingerprinter[Req])
		if !ok {
			var zero Req
			return nil, fmt.Errorf("fingerprinter %T does not accept requests of type %T", cfg.fingerprinter, zero)
		}
		t.fingerprint = fp
	}

	if cfg.RateLimit != nil {
		t.limiter = rate.NewLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Burst)
	}
	if cfg.CircuitBreaker != nil {
		t.breaker = newCircuitBreaker[Resp](cfg.Name, cfg.CircuitBreaker, cfg.ErrorClassifier, cfg.Logger)
	}

	if cfg.MetricsRegisterer != nil {
		if err := cfg.MetricsRegisterer.Register(newStatsCollector(cfg.Name, t.Stats, t.liveCount)); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return t, nil
}

func (t *Transform[Req, Resp]) newWorker() *worker[Req, Resp] {
	id := uuid.NewString()
	h := newHandle(t.factory())
	metrics := &Metrics{}
	return &worker[Req, Resp]{
		id:          id,
		handle:      h,
		exec:        newExecutor[Req, Resp](h, t.config, t.limiter, t.breaker, metrics, id),
		metrics:     metrics,
		cache:       t.cache,
		fingerprint: t.fingerprint,
		logger:      t.config.Logger.With("worker_id", id),
	}
}

// Run processes requests from in until it is closed, emitting each outcome through em.
//
// Every worker's Caller is set up before any request is read. If any setup fails, the workers
// already set up are torn down and Run returns an *InitializationError without making a call.
// Teardown of every set-up worker happens after its last call, on every return path.
//
// When ctx is cancelled, pending backoff waits are aborted and the requests in flight or
// already queued on in resolve as cancelled ErrorRecords; Run then returns ctx.Err().
func (t *Transform[Req, Resp]) Run(ctx context.Context, in <-chan Req, em Emitter[Req, Resp]) (err error) {
	logger := t.config.Logger

	workers := make([]*worker[Req, Resp], t.config.Workers)
	for i := range workers {
		workers[i] = t.newWorker()
	}
	defer func() {
		if tdErr := t.retire(ctx, workers); tdErr != nil {
			err = errors.Join(err, tdErr)
		}
	}()

	if err := t.setup(ctx, workers); err != nil {
		logger.Error("worker setup failed, no requests processed",
			"error", err)
		return err
	}

	logger.Debug("workers ready",
		"workers", len(workers))

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			return w.run(ctx, in, em)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// setup is the barrier before processing: all workers are set up or none process.
func (t *Transform[Req, Resp]) setup(ctx context.Context, workers []*worker[Req, Resp]) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			if err := w.handle.setup(gctx); err != nil {
				return &InitializationError{WorkerID: w.id, Err: err}
			}
			t.track(w)
			return nil
		})
	}
	return g.Wait()
}

// retire tears down every set-up worker and folds its metrics into the transform totals.
// Teardown runs even when ctx is already cancelled.
func (t *Transform[Req, Resp]) retire(ctx context.Context, workers []*worker[Req, Resp]) error {
	tdCtx := context.WithoutCancel(ctx)

	var errs []error
	for _, w := range workers {
		if err := w.handle.teardown(tdCtx); err != nil {
			w.logger.Error("worker teardown failed",
				"error", err)
			errs = append(errs, fmt.Errorf("worker %s teardown failed: %w", w.id, err))
		}
		t.untrack(w)
	}
	return errors.Join(errs...)
}

func (t *Transform[Req, Resp]) track(w *worker[Req, Resp]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[w.id] = w.metrics
}

func (t *Transform[Req, Resp]) untrack(w *worker[Req, Resp]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[w.id]; !ok {
		return
	}
	delete(t.live, w.id)
	t.retired = t.retired.merge(w.metrics.Snapshot())
}

func (t *Transform[Req, Resp]) liveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Apply runs the transform over reqs and collects both outputs. The returned Collector holds
// exactly one Result or ErrorRecord per request unless setup failed.
func (t *Transform[Req, Resp]) Apply(ctx context.Context, reqs []Req) (*Collector[Req, Resp], error) {
	in := make(chan Req, len(reqs))
	for _, req := range reqs {
		in <- req
	}
	close(in)

	out := &Collector[Req, Resp]{}
	err := t.Run(ctx, in, out)
	return out, err
}

// Stream runs the transform in the background and returns its two outputs as channels.
// Both channels must be drained; they are closed once processing finishes. The returned
// wait function blocks until then and returns Run's error.
//
// Example:
//
//	out, wait := t.Stream(ctx, requests)
//	go func() {
//	    for rec := range out.Errors() {
//	        log.Printf("request failed: %s", rec.Message)
//	    }
//	}()
//	for res := range out.Responses() {
//	    handle(res.Response)
//	}
//	if err := wait(); err != nil {
//	    return err
//	}
func (t *Transform[Req, Resp]) Stream(ctx context.Context, in <-chan Req) (*ChannelEmitter[Req, Resp], func() error) {
	em := NewChannelEmitter[Req, Resp](t.config.Workers)
	done := make(chan error, 1)
	go func() {
		err := t.Run(ctx, in, em)
		em.Close()
		done <- err
	}()
	return em, sync.OnceValue(func() error {
		return <-done
	})
}

// Stats returns the transform's metrics: retired workers' totals plus live workers' current
// values.
func (t *Transform[Req, Resp]) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.retired
	for _, m := range t.live {
		s = s.merge(m.Snapshot())
	}
	return s
}

// Health reports the transform's health.
func (t *Transform[Req, Resp]) Health() HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Name:    t.config.Name,
		Workers: t.liveCount(),
		Stats:   t.Stats(),
	}
	if t.breaker != nil {
		state := t.breaker.State()
		status.Circuit = newCircuitHealth(state, t.breaker.Counts())
		status.Healthy = state != StateOpen
	}
	return status
}
