package rrio

import (
	"context"
	"log/slog"
)

// worker processes requests with its own Caller, executor and metrics. A worker handles one
// request at a time; parallelism comes from running several workers.
type worker[Req, Resp any] struct {
	id          string
	handle      *handle[Req, Resp]
	exec        *Executor[Req, Resp]
	metrics     *Metrics
	cache       Cache[Resp]
	fingerprint Fingerprinter[Req]
	logger      *slog.Logger
}

// process resolves one request. The cache is consulted first; a hit bypasses the executor
// and its backoff entirely.
func (w *worker[Req, Resp]) process(ctx context.Context, req Req) Outcome[Req, Resp] {
	if ctx.Err() != nil || w.cache == nil {
		return w.exec.Execute(ctx, req)
	}

	key, err := w.fingerprint(req)
	if err != nil {
		w.metrics.cacheErrors.Add(1)
		w.logger.Warn("failed to fingerprint request, bypassing cache",
			"error", err)
		return w.exec.Execute(ctx, req)
	}

	resp, hit, err := w.cache.Get(ctx, key)
	switch {
	case err != nil:
		w.metrics.cacheErrors.Add(1)
		w.logger.Warn("cache read failed, treating as miss",
			"key", key,
			"error", err)
	case hit:
		w.metrics.cacheHits.Add(1)
		w.metrics.recordOutcome("", true, nil, 0)
		return Succeeded(Result[Req, Resp]{
			Request:  req,
			Response: resp,
			Cached:   true,
		})
	default:
		w.metrics.cacheMisses.Add(1)
	}

	out := w.exec.Execute(ctx, req)
	if res, ok := out.Success(); ok {
		if err := w.cache.Put(ctx, key, res.Response); err != nil {
			w.metrics.cacheErrors.Add(1)
			w.logger.Warn("cache write failed",
				"key", key,
				"error", err)
		}
	}
	return out
}

// run consumes in until it is closed. Once ctx is done, requests already queued on in still
// resolve (as cancelled) but the worker stops waiting for new ones.
func (w *worker[Req, Resp]) run(ctx context.Context, in <-chan Req, em Emitter[Req, Resp]) error {
	for {
		var (
			req Req
			ok  bool
		)
		select {
		case req, ok = <-in:
		case <-ctx.Done():
			select {
			case req, ok = <-in:
			default:
				return nil
			}
		}
		if !ok {
			return nil
		}
		if err := Partition(w.process(ctx, req), em); err != nil {
			return err
		}
	}
}
