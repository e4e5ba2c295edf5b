package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy
type Metrics struct {
	// Generation metrics (one logical caller request)
	GenerationRequestsTotal *prometheus.CounterVec
	GenerationDuration      *prometheus.HistogramVec
	GenerationFailuresTotal *prometheus.CounterVec
	FallbackDepth           *prometheus.HistogramVec

	// Provider attempt metrics (one upstream call)
	ProviderAttemptsTotal *prometheus.CounterVec
	ProviderErrorsTotal   *prometheus.CounterVec
	ProviderDuration      *prometheus.HistogramVec

	// Credential health metrics
	CredentialHealthy  *prometheus.GaugeVec
	CredentialCooldown *prometheus.GaugeVec

	// Quota metrics
	QuotaRejectionsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// depthBuckets are histogram buckets for fallback depth (number of attempts per request)
var depthBuckets = []float64{1, 2, 3, 4, 5, 6, 8, 10}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		GenerationRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Total number of generation requests",
			},
			[]string{"capability", "status"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nevis_proxy",
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "End-to-end duration of generation requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"capability", "status"},
		),
		GenerationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "generation",
				Name:      "failures_total",
				Help:      "Total number of generation requests that exhausted all candidates",
			},
			[]string{"capability", "kind"},
		),
		FallbackDepth: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nevis_proxy",
				Subsystem: "generation",
				Name:      "fallback_depth",
				Help:      "Number of provider attempts consumed per generation request",
				Buckets:   depthBuckets,
			},
			[]string{"capability"},
		),

		ProviderAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "provider",
				Name:      "attempts_total",
				Help:      "Total number of upstream provider attempts",
			},
			[]string{"provider", "capability"},
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Total number of upstream provider errors by failure kind",
			},
			[]string{"provider", "capability", "kind"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nevis_proxy",
				Subsystem: "provider",
				Name:      "duration_seconds",
				Help:      "Duration of upstream provider calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"provider", "capability"},
		),

		CredentialHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nevis_proxy",
				Subsystem: "credential",
				Name:      "healthy",
				Help:      "Whether a credential is currently healthy (1) or not (0)",
			},
			[]string{"provider", "credential"},
		),
		CredentialCooldown: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nevis_proxy",
				Subsystem: "credential",
				Name:      "cooldown",
				Help:      "Whether a credential is cooling down after a rate limit (1) or not (0)",
			},
			[]string{"provider", "credential", "capability"},
		),

		QuotaRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "quota",
				Name:      "rejections_total",
				Help:      "Total number of requests rejected by the per-user quota",
			},
			[]string{"capability"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nevis_proxy",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nevis_proxy",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nevis_proxy",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"provider"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// SetMetrics overrides the global metrics instance (useful for testing)
func SetMetrics(m *Metrics) {
	globalMetrics = m
}

// RecordGeneration records a completed generation request
func (m *Metrics) RecordGeneration(capability, status string, duration time.Duration) {
	m.GenerationRequestsTotal.WithLabelValues(capability, status).Inc()
	m.GenerationDuration.WithLabelValues(capability, status).Observe(duration.Seconds())
}

// RecordGenerationFailure records a generation request that exhausted all candidates
func (m *Metrics) RecordGenerationFailure(capability, kind string) {
	m.GenerationFailuresTotal.WithLabelValues(capability, kind).Inc()
}

// RecordFallbackDepth records how many attempts a generation request consumed
func (m *Metrics) RecordFallbackDepth(capability string, attempts int) {
	m.FallbackDepth.WithLabelValues(capability).Observe(float64(attempts))
}

// RecordProviderAttempt records an upstream provider attempt
func (m *Metrics) RecordProviderAttempt(provider, capability string) {
	m.ProviderAttemptsTotal.WithLabelValues(provider, capability).Inc()
}

// RecordProviderError records an upstream provider error
func (m *Metrics) RecordProviderError(provider, capability, kind string) {
	m.ProviderErrorsTotal.WithLabelValues(provider, capability, kind).Inc()
}

// RecordProviderDuration records the duration of an upstream provider call
func (m *Metrics) RecordProviderDuration(provider, capability string, duration time.Duration) {
	m.ProviderDuration.WithLabelValues(provider, capability).Observe(duration.Seconds())
}

// SetCredentialHealthy sets the health gauge for a credential
func (m *Metrics) SetCredentialHealthy(provider, credential string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.CredentialHealthy.WithLabelValues(provider, credential).Set(v)
}

// SetCredentialCooldown sets the cooldown gauge for a (credential, capability) pair
func (m *Metrics) SetCredentialCooldown(provider, credential, capability string, cooling bool) {
	v := 0.0
	if cooling {
		v = 1.0
	}
	m.CredentialCooldown.WithLabelValues(provider, credential, capability).Set(v)
}

// RecordQuotaRejection records a request rejected by the per-user quota
func (m *Metrics) RecordQuotaRejection(capability string) {
	m.QuotaRejectionsTotal.WithLabelValues(capability).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(provider string, state int) {
	m.CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(provider string) {
	m.CircuitBreakerTrips.WithLabelValues(provider).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveGeneration records the generation duration and status
func (t *Timer) ObserveGeneration(capability, status string) {
	t.metrics.RecordGeneration(capability, status, time.Since(t.start))
}

// ObserveProvider records the provider call duration
func (t *Timer) ObserveProvider(provider, capability string) {
	t.metrics.RecordProviderDuration(provider, capability, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
