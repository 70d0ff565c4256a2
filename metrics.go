package rrio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the metrics context owned by one worker. It is created with the worker and
// folded into its transform's totals when the worker retires.
type Metrics struct {
	attempts    atomic.Int64
	retries     atomic.Int64
	successes   atomic.Int64
	terminal    atomic.Int64
	exhausted   atomic.Int64
	cancelled   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	cacheErrors atomic.Int64
	backoff     atomic.Int64 // nanoseconds

	mu              sync.Mutex
	lastAttemptTime time.Time
	lastError       error
}

func (m *Metrics) recordAttempt(attempt int) {
	m.attempts.Add(1)
	if attempt > 1 {
		m.retries.Add(1)
	}
	m.mu.Lock()
	m.lastAttemptTime = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) recordOutcome(class Classification, success bool, err error, backoff time.Duration) {
	m.backoff.Add(int64(backoff))
	if success {
		m.successes.Add(1)
		return
	}
	switch class {
	case ClassTerminal:
		m.terminal.Add(1)
	case ClassExhaustedRetries:
		m.exhausted.Add(1)
	case ClassCancelled:
		m.cancelled.Add(1)
	}
	m.mu.Lock()
	m.lastError = err
	m.mu.Unlock()
}

// Stats is a point-in-time snapshot of transform or worker metrics.
type Stats struct {
	// Attempts is the number of external calls made (including retries).
	Attempts int64 `json:"attempts"`

	// Retries is the number of attempts after the first for a request.
	Retries int64 `json:"retries"`

	// Successes is the number of requests emitted on the success output.
	Successes int64 `json:"successes"`

	// Terminal, Exhausted and Cancelled count failure records by classification.
	Terminal  int64 `json:"terminal"`
	Exhausted int64 `json:"exhausted"`
	Cancelled int64 `json:"cancelled"`

	// CacheHits, CacheMisses and CacheErrors count cache lookups.
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	CacheErrors int64 `json:"cache_errors"`

	// Backoff is the total time spent waiting between attempts.
	Backoff time.Duration `json:"backoff,format:units"`

	// LastAttemptTime is the time of the last attempt.
	LastAttemptTime time.Time `json:"last_attempt_time"`

	// LastError is the last error that produced a failure record.
	LastError error `json:"-"`
}

// Failures returns the number of requests emitted on the failure output.
func (s Stats) Failures() int64 {
	return s.Terminal + s.Exhausted + s.Cancelled
}

// Snapshot returns the current metrics. It is safe to call concurrently with processing.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	last, lastErr := m.lastAttemptTime, m.lastError
	m.mu.Unlock()

	return Stats{
		Attempts:        m.attempts.Load(),
		Retries:         m.retries.Load(),
		Successes:       m.successes.Load(),
		Terminal:        m.terminal.Load(),
		Exhausted:       m.exhausted.Load(),
		Cancelled:       m.cancelled.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		CacheErrors:     m.cacheErrors.Load(),
		Backoff:         time.Duration(m.backoff.Load()),
		LastAttemptTime: last,
		LastError:       lastErr,
	}
}

// merge adds o to s, keeping the most recent attempt time and error.
func (s Stats) merge(o Stats) Stats {
	s.Attempts += o.Attempts
	s.Retries += o.Retries
	s.Successes += o.Successes
	s.Terminal += o.Terminal
	s.Exhausted += o.Exhausted
	s.Cancelled += o.Cancelled
	s.CacheHits += o.CacheHits
	s.CacheMisses += o.CacheMisses
	s.CacheErrors += o.CacheErrors
	s.Backoff += o.Backoff
	if o.LastAttemptTime.After(s.LastAttemptTime) {
		s.LastAttemptTime = o.LastAttemptTime
		if o.LastError != nil {
			s.LastError = o.LastError
		}
	} else if s.LastError == nil {
		s.LastError = o.LastError
	}
	return s
}

// statsCollector exports a transform's Stats to Prometheus. It reads live values on every
// scrape instead of keeping package-level counters.
type statsCollector struct {
	stats func() Stats

	attempts  *prometheus.Desc
	retries   *prometheus.Desc
	outcomes  *prometheus.Desc
	cache     *prometheus.Desc
	backoff   *prometheus.Desc
	workers   *prometheus.Desc
	liveCount func() int
}

func newStatsCollector(name string, stats func() Stats, liveCount func() int) *statsCollector {
	labels := prometheus.Labels{"transform": name}
	return &statsCollector{
		stats:     stats,
		liveCount: liveCount,
		attempts: prometheus.NewDesc("rrio_call_attempts_total",
			"Total external call attempts, including retries", nil, labels),
		retries: prometheus.NewDesc("rrio_call_retries_total",
			"Total attempts after the first for a request", nil, labels),
		outcomes: prometheus.NewDesc("rrio_outcomes_total",
			"Requests resolved by outcome", []string{"outcome"}, labels),
		cache: prometheus.NewDesc("rrio_cache_lookups_total",
			"Cache lookups by result", []string{"result"}, labels),
		backoff: prometheus.NewDesc("rrio_backoff_seconds_total",
			"Total time spent waiting between attempts", nil, labels),
		workers: prometheus.NewDesc("rrio_workers",
			"Workers currently set up", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attempts
	ch <- c.retries
	ch <- c.outcomes
	ch <- c.cache
	ch <- c.backoff
	ch <- c.workers
}

// Collect implements prometheus.Collector.
func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.Attempts))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries))
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(s.Successes), "success")
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(s.Terminal), string(ClassTerminal))
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(s.Exhausted), string(ClassExhaustedRetries))
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(s.Cancelled), string(ClassCancelled))
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheMisses), "miss")
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheErrors), "error")
	ch <- prometheus.MustNewConstMetric(c.backoff, prometheus.CounterValue, s.Backoff.Seconds())
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(c.liveCount()))
}
