package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransportMetrics records outbound backend traffic.
type TransportMetrics struct {
	requests    *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	rateLimited prometheus.Counter
	latency     *prometheus.HistogramVec
}

// NewTransportMetrics registers the transport metrics on the provided registerer.
func NewTransportMetrics(reg prometheus.Registerer, namespace string) *TransportMetrics {
	if reg == nil {
		return &TransportMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_requests_total",
		Help:      "Backend requests by final outcome.",
	}, []string{"path", "outcome"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_attempts_total",
		Help:      "Individual HTTP attempts issued to the backend.",
	}, []string{"path"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_retries_total",
		Help:      "Attempts repeated after a transient failure.",
	}, []string{"path"})
	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_rate_limited_total",
		Help:      "Requests refused locally by the sliding window limiter.",
	})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_attempt_duration_seconds",
		Help:      "Duration of individual backend attempts.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})
	reg.MustRegister(requests, attempts, retries, rateLimited, latency)
	return &TransportMetrics{
		requests:    requests,
		attempts:    attempts,
		retries:     retries,
		rateLimited: rateLimited,
		latency:     latency,
	}
}

// ObserveAttempt counts one attempt and records its duration.
func (t *TransportMetrics) ObserveAttempt(path string, duration time.Duration) {
	if t == nil || t.attempts == nil {
		return
	}
	path = normalizeLabel(path)
	t.attempts.WithLabelValues(path).Inc()
	t.latency.WithLabelValues(path).Observe(duration.Seconds())
}

// IncRetry counts a retried attempt.
func (t *TransportMetrics) IncRetry(path string) {
	if t == nil || t.retries == nil {
		return
	}
	t.retries.WithLabelValues(normalizeLabel(path)).Inc()
}

// IncOutcome counts a finished request.
func (t *TransportMetrics) IncOutcome(path, outcome string) {
	if t == nil || t.requests == nil {
		return
	}
	t.requests.WithLabelValues(normalizeLabel(path), normalizeLabel(outcome)).Inc()
}

func (t *TransportMetrics) IncRateLimited() {
	if t == nil || t.rateLimited == nil {
		return
	}
	t.rateLimited.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
