// Package metrics provides Prometheus instrumentation for the dependency
// protection service. All metric collectors are registered via the Init
// function and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BreakerFailures counts observed downstream failures by breaker name.
	BreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depshield_breaker_failures_total",
			Help: "Total downstream failures observed per circuit breaker",
		},
		[]string{"breaker"},
	)

	// BreakerState reports the current state per breaker:
	// 0=closed, 1=open, 2=half-open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depshield_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	// BreakerStateChanges counts state transitions by breaker and edge.
	BreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depshield_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	// BreakerRejections counts calls rejected while a breaker was open.
	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depshield_breaker_rejections_total",
			Help: "Total calls rejected because the circuit was open",
		},
		[]string{"breaker"},
	)

	// ProbeDuration observes dependency probe latency in seconds.
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depshield_probe_duration_seconds",
			Help:    "Dependency probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency"},
	)

	// AuthFailures counts admin API authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depshield_auth_failures_total",
			Help: "Total admin API authentication failures",
		},
		[]string{"reason"},
	)

	// RateLimitHits counts admin API rate limit rejections.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depshield_rate_limit_hits_total",
			Help: "Total admin API rate limit rejections",
		},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling traffic.
func Init() {
	prometheus.MustRegister(
		BreakerFailures,
		BreakerState,
		BreakerStateChanges,
		BreakerRejections,
		ProbeDuration,
		AuthFailures,
		RateLimitHits,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
