package rrio

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	// DefaultWorkers is the number of workers when none is configured.
	DefaultWorkers = 1

	// DefaultCallTimeout bounds each individual attempt.
	DefaultCallTimeout = 30 * time.Second

	// DefaultName labels metrics and the circuit breaker.
	DefaultName = "rrio"
)

// Config holds transform configuration options.
type Config struct {
	// Name labels metrics, logs and the circuit breaker.
	// Default: "rrio"
	Name string

	// Backoff is the retry policy.
	// Default: DefaultBackoffPolicy()
	Backoff BackoffPolicy

	// ErrorClassifier resolves untagged caller errors into failure kinds.
	// Default: HTTPStatusClassifier
	ErrorClassifier ErrorClassifier

	// Logger for transform operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Workers is the number of workers processing requests in parallel. Each worker owns
	// its own Caller.
	// Default: 1
	Workers int

	// CallTimeout bounds each attempt. Zero disables the per-attempt deadline.
	// Default: 30 seconds
	CallTimeout time.Duration

	// RateLimit, when non-nil, throttles attempts across all workers.
	RateLimit *RateLimitConfig

	// CircuitBreaker, when non-nil, guards the caller with a circuit breaker shared by all
	// workers.
	CircuitBreaker *CircuitBreakerConfig

	// IncludeRequestInErrors copies the request into each ErrorRecord.
	// Default: true
	IncludeRequestInErrors bool

	// MetricsRegisterer, when non-nil, receives a collector exporting per-worker metrics.
	MetricsRegisterer prometheus.Registerer

	// cache and fingerprinter are typed by the generic option helpers and checked
	// against the transform's type parameters in New.
	cache         any
	fingerprinter any
}

// RateLimitConfig configures the shared token bucket applied before every attempt.
type RateLimitConfig struct {
	Limit rate.Limit
	Burst int
}

// Option is a functional option for configuring a transform.
type Option func(*Config)

// DefaultConfig returns transform configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:                   DefaultName,
		Backoff:                DefaultBackoffPolicy(),
		ErrorClassifier:        DefaultErrorClassifier(),
		Logger:                 slog.Default(),
		Workers:                DefaultWorkers,
		CallTimeout:            DefaultCallTimeout,
		IncludeRequestInErrors: true,
	}
}

// Validate reports invalid configuration.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Backoff.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.CallTimeout < 0 {
		errs = append(errs, errors.New("call timeout must not be negative"))
	}
	if c.RateLimit != nil && c.RateLimit.Burst <= 0 && c.RateLimit.Limit != rate.Inf {
		errs = append(errs, errors.New("rate limit burst must be positive"))
	}
	return errors.Join(errs...)
}

// WithName sets the name used for metrics, logs and the circuit breaker.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithMaxAttempts sets the maximum number of attempts per request.
// The total number of calls will be at most MaxAttempts (including the initial attempt).
//
// Example:
//
//	rrio.WithMaxAttempts(5) // Try up to 5 times total
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.Backoff.MaxAttempts = attempts
	}
}

// WithExponentialBackoff sets the base and maximum delay between attempts.
//
// Example:
//
//	rrio.WithExponentialBackoff(100*time.Millisecond, 5*time.Second)
//	// With default multiplier 2.0: 100ms, 200ms, 400ms, ... 5s (capped)
func WithExponentialBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.Backoff.BaseDelay = baseDelay
		c.Backoff.MaxDelay = maxDelay
	}
}

// WithMultiplier sets the backoff growth factor.
//
// Example:
//
//	rrio.WithMultiplier(1.5) // 50% growth per retry
func WithMultiplier(multiplier float64) Option {
	return func(c *Config) {
		c.Backoff.Multiplier = multiplier
	}
}

// WithJitter adds a random duration in [0, jitter) to every wait.
func WithJitter(jitter time.Duration) Option {
	return func(c *Config) {
		c.Backoff.Jitter = jitter
	}
}

// WithBackoffPolicy replaces the whole backoff policy.
func WithBackoffPolicy(policy BackoffPolicy) Option {
	return func(c *Config) {
		c.Backoff = policy
	}
}

// WithErrorClassifier sets a custom classifier for untagged caller errors.
//
// Example:
//
//	rrio.WithErrorClassifier(rrio.ClassifierFunc(func(err error) rrio.FailureKind {
//	    if errors.Is(err, sql.ErrConnDone) {
//	        return rrio.KindRemoteSystem
//	    }
//	    return rrio.KindTerminal
//	}))
func WithErrorClassifier(classifier ErrorClassifier) Option {
	return func(c *Config) {
		c.ErrorClassifier = classifier
	}
}

// WithLogger sets a custom logger.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	rrio.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithWorkers sets the number of parallel workers.
func WithWorkers(workers int) Option {
	return func(c *Config) {
		c.Workers = workers
	}
}

// WithCallTimeout bounds each attempt. Zero disables the per-attempt deadline.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CallTimeout = timeout
	}
}

// WithRateLimit throttles attempts across all workers to limit events per second with the
// given burst.
//
// Example:
//
//	rrio.WithRateLimit(rate.Limit(50), 10) // 50 calls/s, bursts of 10
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Config) {
		c.RateLimit = &RateLimitConfig{Limit: limit, Burst: burst}
	}
}

// WithCircuitBreaker guards the caller with a circuit breaker configured by opts on top of
// DefaultCircuitBreakerConfig.
//
// Example:
//
//	rrio.WithCircuitBreaker(
//	    rrio.WithMaxRequests(5),
//	    rrio.WithBreakerTimeout(time.Minute),
//	)
func WithCircuitBreaker(opts ...CircuitBreakerOption) Option {
	return func(c *Config) {
		cb := DefaultCircuitBreakerConfig()
		for _, opt := range opts {
			opt(cb)
		}
		c.CircuitBreaker = cb
	}
}

// WithRequestInErrors controls whether ErrorRecords carry the original request.
func WithRequestInErrors(include bool) Option {
	return func(c *Config) {
		c.IncludeRequestInErrors = include
	}
}

// WithMetricsRegisterer registers a collector for the transform's metrics with reg.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	rrio.WithMetricsRegisterer(reg)
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.MetricsRegisterer = reg
	}
}

// WithCache enables response caching. The cache's response type must match the
// transform's response type.
//
// Example:
//
//	cache := rrio.NewMemoryCache[Item](10_000, time.Hour)
//	rrio.WithCache(cache)
func WithCache[Resp any](cache Cache[Resp]) Option {
	return func(c *Config) {
		c.cache = cache
	}
}

// WithFingerprinter sets the function deriving cache keys from requests.
// Default: JSONFingerprint
func WithFingerprinter[Req any](fp Fingerprinter[Req]) Option {
	return func(c *Config) {
		c.fingerprinter = fp
	}
}

// CircuitBreakerConfig configures the breaker shared by every worker of a transform.
// The breaker wraps single attempts, not whole requests: each retry passes through it.
type CircuitBreakerConfig struct {
	// ReadyToTrip decides, after a failed attempt in the closed state, whether to open the
	// circuit. Only remote-system failures count as failures here; quota, timeout, terminal
	// and cancelled attempts are recorded as successes.
	// Default: at least 3 attempts with 60% of them remote-system failures
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// OnStateChange is called with the transform name on every state transition.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Interval clears the closed-state counts periodically. Zero keeps them until the
	// circuit opens.
	// Default: 10 seconds
	Interval time.Duration

	// Timeout is how long the circuit stays open. Attempts rejected meanwhile fail as
	// remote-system failures and wait their backoff like any other.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRequests is the number of trial attempts let through while half-open. The circuit
	// closes after that many consecutive successes.
	// Default: 3
	MaxRequests uint32
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerCounts is the breaker's attempt tally for the current interval, as seen by
// ReadyToTrip and reported by Health.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed lets every attempt reach the Caller.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen lets MaxRequests trial attempts through.
	StateHalfOpen

	// StateOpen rejects attempts without calling; the transform reports itself unhealthy.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithMaxRequests sets the number of trial attempts allowed while half-open.
func WithMaxRequests(maxRequests uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets the interval for clearing counts in closed state.
func WithInterval(interval time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Interval = interval
	}
}

// WithBreakerTimeout sets how long the breaker stays open before probing again.
func WithBreakerTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithReadyToTrip sets when the circuit opens. The counts only reflect remote-system
// failures.
//
// Example:
//
//	rrio.WithReadyToTrip(func(counts rrio.CircuitBreakerCounts) bool {
//	    return counts.ConsecutiveFailures >= 5
//	})
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// DefaultCircuitBreakerConfig returns the breaker settings used by WithCircuitBreaker when no
// option overrides them.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts CircuitBreakerCounts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
}
