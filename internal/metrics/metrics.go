package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the admission layer.
type Metrics struct {
	admissionDecisions *prometheus.CounterVec
	rateLimitChecks    *prometheus.CounterVec
	storeFailures      *prometheus.CounterVec
	checkDuration      prometheus.Histogram
}

// New creates a Metrics instance and registers its collectors with the
// default registry.
func New() *Metrics {
	return &Metrics{
		admissionDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_decisions_total",
				Help: "Admission outcomes by route class",
			},
			[]string{"class", "outcome"},
		),
		rateLimitChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_checks_total",
				Help: "Rate limit checks by result",
			},
			[]string{"result"},
		),
		storeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_failures_total",
				Help: "Backing store failures by store",
			},
			[]string{"store"},
		),
		checkDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_rate_limit_check_duration_seconds",
				Help:    "Latency of rate limit checks including store round trips",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordDecision counts one admission outcome for a route class.
func (m *Metrics) RecordDecision(class, outcome string) {
	if m == nil {
		return
	}
	m.admissionDecisions.WithLabelValues(class, outcome).Inc()
}

// RecordCheck counts one rate limit check and its latency.
func (m *Metrics) RecordCheck(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitChecks.WithLabelValues(result).Inc()
	m.checkDuration.Observe(elapsed.Seconds())
}

// RecordStoreFailure counts one backing-store failure.
func (m *Metrics) RecordStoreFailure(store string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(store).Inc()
}
