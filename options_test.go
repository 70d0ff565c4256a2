package rrio_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/JohnPlummer/jp-go-rrio"
)

var _ = Describe("Config", func() {
	It("has sensible defaults", func() {
		cfg := rrio.DefaultConfig()
		Expect(cfg.Name).To(Equal("rrio"))
		Expect(cfg.Workers).To(Equal(1))
		Expect(cfg.CallTimeout).To(Equal(30 * time.Second))
		Expect(cfg.IncludeRequestInErrors).To(BeTrue())
		Expect(cfg.Backoff).To(Equal(rrio.DefaultBackoffPolicy()))
		Expect(cfg.ErrorClassifier).NotTo(BeNil())
		Expect(cfg.Logger).NotTo(BeNil())
		Expect(cfg.RateLimit).To(BeNil())
		Expect(cfg.CircuitBreaker).To(BeNil())
		Expect(cfg.Validate()).To(Succeed())
	})

	It("applies options", func() {
		cfg := rrio.DefaultConfig()
		for _, opt := range []rrio.Option{
			rrio.WithName("lookups"),
			rrio.WithMaxAttempts(7),
			rrio.WithExponentialBackoff(10*time.Millisecond, time.Second),
			rrio.WithMultiplier(3),
			rrio.WithJitter(5 * time.Millisecond),
			rrio.WithWorkers(8),
			rrio.WithCallTimeout(time.Second),
			rrio.WithRateLimit(rate.Limit(10), 2),
			rrio.WithCircuitBreaker(rrio.WithMaxRequests(9), rrio.WithInterval(time.Minute)),
			rrio.WithRequestInErrors(false),
		} {
			opt(cfg)
		}

		Expect(cfg.Name).To(Equal("lookups"))
		Expect(cfg.Backoff).To(Equal(rrio.BackoffPolicy{
			BaseDelay:   10 * time.Millisecond,
			Multiplier:  3,
			MaxDelay:    time.Second,
			MaxAttempts: 7,
			Jitter:      5 * time.Millisecond,
		}))
		Expect(cfg.Workers).To(Equal(8))
		Expect(cfg.CallTimeout).To(Equal(time.Second))
		Expect(cfg.RateLimit).To(Equal(&rrio.RateLimitConfig{Limit: 10, Burst: 2}))
		Expect(cfg.CircuitBreaker.MaxRequests).To(Equal(uint32(9)))
		Expect(cfg.CircuitBreaker.Interval).To(Equal(time.Minute))
		Expect(cfg.CircuitBreaker.Timeout).To(Equal(30 * time.Second))
		Expect(cfg.IncludeRequestInErrors).To(BeFalse())
		Expect(cfg.Validate()).To(Succeed())
	})

	DescribeTable("Validate rejects",
		func(opt rrio.Option, msg string) {
			cfg := rrio.DefaultConfig()
			opt(cfg)
			Expect(cfg.Validate()).To(MatchError(ContainSubstring(msg)))
		},
		Entry("no workers", rrio.WithWorkers(0), "workers must be positive"),
		Entry("negative call timeout", rrio.WithCallTimeout(-time.Second), "call timeout"),
		Entry("zero burst", rrio.WithRateLimit(rate.Limit(5), 0), "burst"),
		Entry("bad backoff", rrio.WithMultiplier(0.1), "multiplier"),
	)
})
