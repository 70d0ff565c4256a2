package rrio

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxAttempts is the number of call attempts (including the first) made for a
	// request whose failures stay transient.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait after the first failed attempt. With the other defaults a
	// request that keeps failing transiently waits 1s, 2s and 4s before it surfaces.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps any single wait.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMultiplier is the growth factor between consecutive waits.
	DefaultMultiplier = 2.0

	// maxAttemptsCeiling bounds MaxAttempts regardless of configuration.
	maxAttemptsCeiling = 1000
)

// BackoffPolicy computes the wait between attempts and enforces the attempt ceiling.
//
// The wait after failed attempt n (1-based) is BaseDelay * Multiplier^(n-1), capped at
// MaxDelay. Waits never go below that floor; Jitter only ever adds to it. Every transient
// failure is followed by its wait, including the one that reaches MaxAttempts; the ceiling
// is applied when that wait ends.
type BackoffPolicy struct {
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration

	// Multiplier is the growth factor between consecutive waits. Must be >= 1.
	Multiplier float64

	// MaxDelay caps any single wait. Zero means uncapped.
	MaxDelay time.Duration

	// MaxAttempts is the maximum number of attempts, including the first. Values above
	// 1000 are clamped.
	MaxAttempts int

	// Jitter is the upper bound of a random duration added to each wait. Zero disables it.
	Jitter time.Duration
}

// DefaultBackoffPolicy returns the policy used when none is configured:
// 3 attempts, 1s base delay, multiplier 2, 30s cap, no jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate reports configuration that would break the backoff contract.
func (p BackoffPolicy) Validate() error {
	var errs []error
	if p.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if p.BaseDelay < 0 {
		errs = append(errs, errors.New("base delay must not be negative"))
	}
	if p.MaxDelay < 0 {
		errs = append(errs, errors.New("max delay must not be negative"))
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		errs = append(errs, errors.New("max delay must not be less than base delay"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("multiplier must be at least 1"))
	}
	if p.Jitter < 0 {
		errs = append(errs, errors.New("jitter must not be negative"))
	}
	return errors.Join(errs...)
}

// Attempts returns the effective attempt ceiling.
func (p BackoffPolicy) Attempts() int {
	switch {
	case p.MaxAttempts < 1:
		return 1
	case p.MaxAttempts > maxAttemptsCeiling:
		return maxAttemptsCeiling
	default:
		return p.MaxAttempts
	}
}

// Delay returns the wait that follows failed attempt n (1-based), without jitter.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	maxDelay := time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		maxDelay = p.MaxDelay
	}

	// Stop growing at the cap so large attempt numbers cannot overflow
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt && delay < float64(maxDelay); i++ {
		delay *= p.Multiplier
	}
	if delay >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// Schedule returns every wait the policy can produce, in order, without jitter.
// Its length is Attempts(): one wait per transient failure.
func (p BackoffPolicy) Schedule() []time.Duration {
	waits := make([]time.Duration, 0, p.Attempts())
	for n := 1; n <= p.Attempts(); n++ {
		waits = append(waits, p.Delay(n))
	}
	return waits
}

// Decision is the Backoff Controller's verdict after a failed attempt.
type Decision struct {
	// GiveUp is true when no further attempt follows. The request resolves as a failure
	// once Wait has elapsed.
	GiveUp bool

	// Wait is the minimum delay before the next attempt, or before the failure surfaces
	// when GiveUp is set. Zero for non-retryable kinds.
	Wait time.Duration
}

// ShouldRetry decides what follows failed attempt number attempt (1-based) of the given kind.
// Non-retryable kinds give up at once. Retryable kinds always wait the scheduled delay and
// give up after it once the ceiling is reached.
func (p BackoffPolicy) ShouldRetry(attempt int, kind FailureKind) Decision {
	if !kind.Retryable() {
		return Decision{GiveUp: true}
	}
	return Decision{
		Wait:   p.Delay(attempt) + p.jitter(),
		GiveUp: attempt >= p.Attempts(),
	}
}

func (p BackoffPolicy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.Jitter)))
}

// retryState is the per-request attempt counter and elapsed backoff. It lives only for the
// duration of one Executor.Execute call.
type retryState struct {
	attempts  int
	lastKind  FailureKind
	lastErr   error
	backoff   time.Duration
	waitStart time.Time
	waiting   bool
	exhausted bool
}

// beginAttempt closes out any wait in progress and counts a new attempt.
func (s *retryState) beginAttempt() {
	s.endWait()
	s.attempts++
}

func (s *retryState) endWait() {
	if s.waiting {
		s.backoff += time.Since(s.waitStart)
		s.waiting = false
	}
}

// newBackoff adapts the policy to go-retry for one request. The returned Backoff consults
// ShouldRetry with the state's latest attempt. A give-up decision still serves its wait:
// the state is marked exhausted and the next retry callback surfaces the last failure.
func (p BackoffPolicy) newBackoff(state *retryState) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if !state.lastKind.Retryable() {
			return 0, true
		}
		decision := p.ShouldRetry(state.attempts, state.lastKind)
		state.exhausted = decision.GiveUp
		state.waitStart = time.Now()
		state.waiting = true
		return decision.Wait, false
	})
}
