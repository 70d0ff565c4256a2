package rrio

import (
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// circuitBreaker guards calls with a gobreaker circuit breaker shared by every worker of a
// transform. Only remote-system failures count against the circuit; quota, timeout,
// terminal and cancelled failures are treated as successes so they cannot trip it.
type circuitBreaker[Resp any] struct {
	cb     *gobreaker.CircuitBreaker[Resp]
	logger *slog.Logger
}

func newCircuitBreaker[Resp any](
	name string,
	config *CircuitBreakerConfig,
	classifier ErrorClassifier,
	logger *slog.Logger,
) *circuitBreaker[Resp] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.ReadyToTrip == nil {
				return counts.ConsecutiveFailures > 5
			}
			return config.ReadyToTrip(convertGobreakerCounts(counts))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return classify(classifier, err) != KindRemoteSystem
		},
	}

	return &circuitBreaker[Resp]{
		cb:     gobreaker.NewCircuitBreaker[Resp](settings),
		logger: logger,
	}
}

// execute runs fn through the breaker. Rejections by an open or saturated half-open
// breaker are returned as remote-system failures so they are retried with backoff.
func (b *circuitBreaker[Resp]) execute(fn func() (Resp, error)) (Resp, error) {
	var zero Resp

	resp, err := b.cb.Execute(fn)
	if err == nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		b.logger.Debug("circuit breaker is open, call rejected",
			"state", b.cb.State().String())
		return zero, RemoteSystem(jperrors.NewCircuitBreakerError(
			"call rejected",
			"call",
			"open",
			jperrors.WithCause(err),
			jperrors.WithCounts(b.jpCounts()),
		))
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		b.logger.Debug("circuit breaker in half-open state, too many requests")
		return zero, RemoteSystem(jperrors.NewCircuitBreakerError(
			"too many requests in half-open state",
			"call",
			"half-open",
			jperrors.WithCause(err),
			jperrors.WithCounts(b.jpCounts()),
		))
	default:
		return zero, err
	}
}

func (b *circuitBreaker[Resp]) jpCounts() jperrors.CircuitCounts {
	counts := b.cb.Counts()
	return jperrors.CircuitCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// State returns the current state of the circuit breaker.
func (b *circuitBreaker[Resp]) State() CircuitBreakerState {
	return convertGobreakerState(b.cb.State())
}

// Counts returns the current counts of the circuit breaker.
func (b *circuitBreaker[Resp]) Counts() CircuitBreakerCounts {
	return convertGobreakerCounts(b.cb.Counts())
}

func convertGobreakerCounts(counts gobreaker.Counts) CircuitBreakerCounts {
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// convertGobreakerState converts gobreaker.State to our CircuitBreakerState.
func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
