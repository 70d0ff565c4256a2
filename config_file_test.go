package rrio_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-rrio"
)

var _ = Describe("Config file", func() {
	Describe("ParseConfig", func() {
		It("fills defaults for an empty document", func() {
			cfg, err := rrio.ParseConfig(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Name).To(Equal(rrio.DefaultName))
			Expect(cfg.Workers).To(Equal(rrio.DefaultWorkers))
			Expect(cfg.CallTimeout).To(Equal(rrio.DefaultCallTimeout))
			Expect(cfg.Backoff.MaxAttempts).To(Equal(rrio.DefaultMaxAttempts))
			Expect(cfg.Backoff.BaseDelay).To(Equal(rrio.DefaultBaseDelay))
			Expect(cfg.Backoff.MaxDelay).To(Equal(rrio.DefaultMaxDelay))
			Expect(cfg.Backoff.Multiplier).To(Equal(rrio.DefaultMultiplier))
			Expect(cfg.Cache.Backend).To(Equal(rrio.CacheBackendNone))
			Expect(cfg.RateLimit).To(BeNil())
			Expect(cfg.CircuitBreaker).To(BeNil())
		})

		It("parses a full document and expands environment variables", func() {
			GinkgoT().Setenv("RRIO_TEST_REDIS", "redis://localhost:6379/2")

			cfg, err := rrio.ParseConfig([]byte(`
name: lookups
workers: 4
call_timeout: 5s
include_request_in_errors: false
backoff:
  base_delay: 100ms
  multiplier: 1.5
  max_delay: 10s
  max_attempts: 6
  jitter: 50ms
rate_limit:
  per_second: 20
  burst: 5
circuit_breaker:
  max_requests: 2
cache:
  backend: redis
  ttl: 1h
  redis:
    url: ${RRIO_TEST_REDIS}
    prefix: "lookups:"
`))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Name).To(Equal("lookups"))
			Expect(cfg.Workers).To(Equal(4))
			Expect(cfg.CallTimeout).To(Equal(5 * time.Second))
			Expect(cfg.IncludeRequestInErrors).To(HaveValue(BeFalse()))
			Expect(cfg.Backoff).To(Equal(rrio.BackoffFileConfig{
				BaseDelay:   100 * time.Millisecond,
				Multiplier:  1.5,
				MaxDelay:    10 * time.Second,
				MaxAttempts: 6,
				Jitter:      50 * time.Millisecond,
			}))
			Expect(cfg.RateLimit).To(Equal(&rrio.RateLimitFileConfig{PerSecond: 20, Burst: 5}))
			Expect(cfg.CircuitBreaker.MaxRequests).To(Equal(uint32(2)))
			Expect(cfg.CircuitBreaker.Interval).To(Equal(10 * time.Second))
			Expect(cfg.CircuitBreaker.Timeout).To(Equal(30 * time.Second))
			Expect(cfg.Cache.Backend).To(Equal(rrio.CacheBackendRedis))
			Expect(cfg.Cache.TTL).To(Equal(time.Hour))
			Expect(cfg.Cache.Redis.URL).To(Equal("redis://localhost:6379/2"))
			Expect(cfg.Cache.Redis.Prefix).To(Equal("lookups:"))
		})

		It("rejects an unknown cache backend", func() {
			_, err := rrio.ParseConfig([]byte("cache:\n  backend: disk\n"))
			Expect(err).To(MatchError(ContainSubstring(`unknown cache backend "disk"`)))
		})

		It("requires a URL for the redis backend", func() {
			_, err := rrio.ParseConfig([]byte("cache:\n  backend: redis\n"))
			Expect(err).To(MatchError(ContainSubstring("requires redis.url")))
		})

		It("rejects malformed YAML", func() {
			_, err := rrio.ParseConfig([]byte("workers: [1"))
			Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
		})
	})

	Describe("LoadConfig", func() {
		It("reads a file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "rrio.yaml")
			Expect(os.WriteFile(path, []byte("name: from-file\nworkers: 2\n"), 0o600)).To(Succeed())

			cfg, err := rrio.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Name).To(Equal("from-file"))
			Expect(cfg.Workers).To(Equal(2))
		})

		It("reports a missing file", func() {
			_, err := rrio.LoadConfig(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
			Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
		})
	})

	Describe("Options", func() {
		It("configures a transform", func() {
			cfg, err := rrio.ParseConfig([]byte(`
name: configured
workers: 3
include_request_in_errors: false
backoff:
  base_delay: 1ms
  max_attempts: 2
circuit_breaker: {}
`))
			Expect(err).NotTo(HaveOccurred())

			caller := &mockCaller{callFunc: func(_ context.Context, _ string) (string, error) {
				return "", rrio.Quota(nil)
			}}
			t, err := rrio.New(rrio.Stateless[string, string](caller),
				append(cfg.Options(), rrio.WithLogger(quietLogger()))...)
			Expect(err).NotTo(HaveOccurred())

			out, err := t.Apply(context.Background(), []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Errors()).To(HaveLen(1))
			Expect(out.Errors()[0].Attempts).To(Equal(2))
			Expect(out.Errors()[0].Request).To(BeNil())

			health := t.Health()
			Expect(health.Name).To(Equal("configured"))
			Expect(health.Circuit).NotTo(BeNil())
		})
	})
})
