// Package metrics registers the Prometheus instrumentation for the
// payment-gated scoring pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the oracle.
type Metrics struct {
	// Request lifecycle
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Payment metrics
	PaymentVerifications *prometheus.CounterVec

	// Rate limiting
	RateLimitViolations *prometheus.CounterVec

	// Analytics provider
	AnalyticsRetries   *prometheus.CounterVec
	AnalyticsFailures  *prometheus.CounterVec
	AnalyticsCacheHits prometheus.Counter
	AnalyticsCacheMiss prometheus.Counter

	// Scoring
	ScoreDistribution prometheus.Histogram
}

// New creates and registers all metrics against the given registerer.
// Tests pass a fresh registry so parallel scenarios don't collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_requests_total",
				Help: "Trust-score requests by terminal state",
			},
			[]string{"state"}, // state: scored, rejected
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracle_request_duration_seconds",
				Help:    "End-to-end request handling duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),

		PaymentVerifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_payment_verifications_total",
				Help: "Payment verification attempts by outcome",
			},
			[]string{"outcome"}, // outcome: verified, invalid, unsettled, timeout
		),

		RateLimitViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_rate_limit_violations_total",
				Help: "Rejected calls due to rate limiting",
			},
			[]string{"consumer_id"},
		),

		AnalyticsRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_analytics_retries_total",
				Help: "Retry attempts against the mirror API per dataset",
			},
			[]string{"dataset"},
		),

		AnalyticsFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_analytics_failures_total",
				Help: "Datasets marked unavailable after exhausted retries",
			},
			[]string{"dataset"},
		),

		AnalyticsCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oracle_analytics_cache_hits_total",
				Help: "Analytics bundle cache hits",
			},
		),

		AnalyticsCacheMiss: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oracle_analytics_cache_misses_total",
				Help: "Analytics bundle cache misses",
			},
		),

		ScoreDistribution: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oracle_trust_score",
				Help:    "Distribution of computed trust scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
	}
}

// NewDefault registers against the global default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
