package rrio

// HealthStatus reports the state of a transform for health checks.
type HealthStatus struct {
	// Healthy is false only while the circuit breaker is open.
	Healthy bool `json:"healthy"`

	// Name is the transform name.
	Name string `json:"name"`

	// Workers is the number of workers currently set up.
	Workers int `json:"workers"`

	// Circuit is the circuit breaker state, or nil when no breaker is configured.
	Circuit *CircuitHealth `json:"circuit,omitempty"`

	// Stats is a snapshot of the transform's metrics.
	Stats Stats `json:"stats"`
}

// CircuitHealth is the health of a transform's circuit breaker.
type CircuitHealth struct {
	// State is "closed", "half-open" or "open".
	State string `json:"state"`

	// Requests is the total number of requests in the current interval.
	Requests uint32 `json:"requests"`

	// TotalSuccesses is the total number of successful requests.
	TotalSuccesses uint32 `json:"total_successes"`

	// TotalFailures is the total number of failed requests.
	TotalFailures uint32 `json:"total_failures"`

	// ConsecutiveFailures is the number of consecutive failures.
	ConsecutiveFailures uint32 `json:"consecutive_failures"`

	// ConsecutiveSuccesses is the number of consecutive successes.
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

func newCircuitHealth(state CircuitBreakerState, counts CircuitBreakerCounts) *CircuitHealth {
	return &CircuitHealth{
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}
