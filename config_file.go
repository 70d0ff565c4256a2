package rrio

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v2"
)

// Cache backends selectable from a config file.
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// FileConfig is the YAML form of a transform configuration.
type FileConfig struct {
	Name                   string               `yaml:"name"`
	Workers                int                  `yaml:"workers"`
	CallTimeout            time.Duration        `yaml:"call_timeout"`
	IncludeRequestInErrors *bool                `yaml:"include_request_in_errors"`
	Backoff                BackoffFileConfig    `yaml:"backoff"`
	RateLimit              *RateLimitFileConfig `yaml:"rate_limit"`
	CircuitBreaker         *BreakerFileConfig   `yaml:"circuit_breaker"`
	Cache                  CacheFileConfig      `yaml:"cache"`
}

// BackoffFileConfig configures the backoff policy.
type BackoffFileConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      time.Duration `yaml:"jitter"`
}

// RateLimitFileConfig configures attempt throttling.
type RateLimitFileConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// BreakerFileConfig configures the circuit breaker.
type BreakerFileConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheFileConfig selects and configures the response cache. The cache itself is built by
// the program, since its response type is only known there.
type CacheFileConfig struct {
	Backend    string           `yaml:"backend"`
	MaxEntries int              `yaml:"max_entries"`
	TTL        time.Duration    `yaml:"ttl"`
	Redis      RedisCacheConfig `yaml:"redis"`
}

// RedisCacheConfig locates the Redis server of the redis cache backend.
type RedisCacheConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// LoadConfig reads a transform configuration from a YAML file. Environment variables in the
// file are expanded before parsing, and unset values take their defaults.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML transform configuration.
func ParseConfig(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	defaults := DefaultBackoffPolicy()
	if cfg.Backoff.BaseDelay == 0 {
		cfg.Backoff.BaseDelay = defaults.BaseDelay
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = defaults.Multiplier
	}
	if cfg.Backoff.MaxDelay == 0 {
		cfg.Backoff.MaxDelay = defaults.MaxDelay
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff.MaxAttempts = defaults.MaxAttempts
	}

	if cfg.CircuitBreaker != nil {
		cb := DefaultCircuitBreakerConfig()
		if cfg.CircuitBreaker.MaxRequests == 0 {
			cfg.CircuitBreaker.MaxRequests = cb.MaxRequests
		}
		if cfg.CircuitBreaker.Interval == 0 {
			cfg.CircuitBreaker.Interval = cb.Interval
		}
		if cfg.CircuitBreaker.Timeout == 0 {
			cfg.CircuitBreaker.Timeout = cb.Timeout
		}
	}

	switch cfg.Cache.Backend {
	case "":
		cfg.Cache.Backend = CacheBackendNone
	case CacheBackendNone, CacheBackendMemory, CacheBackendRedis:
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == CacheBackendRedis && cfg.Cache.Redis.URL == "" {
		return nil, fmt.Errorf("cache backend %q requires redis.url", CacheBackendRedis)
	}

	return &cfg, nil
}

// Options converts the file configuration into transform options. Cache options are not
// included.
func (c *FileConfig) Options() []Option {
	opts := []Option{
		WithName(c.Name),
		WithWorkers(c.Workers),
		WithCallTimeout(c.CallTimeout),
		WithBackoffPolicy(BackoffPolicy{
			BaseDelay:   c.Backoff.BaseDelay,
			Multiplier:  c.Backoff.Multiplier,
			MaxDelay:    c.Backoff.MaxDelay,
			MaxAttempts: c.Backoff.MaxAttempts,
			Jitter:      c.Backoff.Jitter,
		}),
	}
	if c.IncludeRequestInErrors != nil {
		opts = append(opts, WithRequestInErrors(*c.IncludeRequestInErrors))
	}
	if c.RateLimit != nil {
		opts = append(opts, WithRateLimit(rate.Limit(c.RateLimit.PerSecond), c.RateLimit.Burst))
	}
	if c.CircuitBreaker != nil {
		opts = append(opts, WithCircuitBreaker(
			WithMaxRequests(c.CircuitBreaker.MaxRequests),
			WithInterval(c.CircuitBreaker.Interval),
			WithBreakerTimeout(c.CircuitBreaker.Timeout),
		))
	}
	return opts
}
