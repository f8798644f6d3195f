package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricIntentsRequested   = "checkout_intents_requested_total"
	MetricIntentsSuperseded  = "checkout_intents_superseded_total"
	MetricReadinessFallbacks = "checkout_readiness_fallbacks_total"
	MetricSubmissions        = "checkout_submissions_total"
	MetricSubmitDuration     = "checkout_submit_duration_seconds"
)

// Metrics contains Prometheus metrics for payment sessions.
// All operations are thread-safe. A nil *Metrics is a no-op.
type Metrics struct {
	intentsRequested   *prometheus.CounterVec
	intentsSuperseded  prometheus.Counter
	readinessFallbacks prometheus.Counter
	submissions        *prometheus.CounterVec
	submitDuration     prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		intentsRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIntentsRequested,
			Help: "Total number of payment and setup intents requested from the backend",
		}, []string{"flow"}),
		intentsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricIntentsSuperseded,
			Help: "Total number of intent responses discarded because a newer request replaced them",
		}),
		readinessFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReadinessFallbacks,
			Help: "Total number of widgets enabled by the fallback timer instead of the ready callback",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSubmissions,
			Help: "Total number of payment submissions by flow and outcome",
		}, []string{"flow", "outcome"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSubmitDuration,
			Help:    "Histogram of submit latency in seconds, from click to outcome",
			Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncIntentsRequested increments the intents requested counter for flow.
func (m *Metrics) IncIntentsRequested(flow Flow) {
	if m == nil {
		return
	}
	m.intentsRequested.WithLabelValues(flow.String()).Inc()
}

// IncIntentsSuperseded increments the superseded intents counter.
func (m *Metrics) IncIntentsSuperseded() {
	if m == nil {
		return
	}
	m.intentsSuperseded.Inc()
}

// IncReadinessFallbacks increments the readiness fallback counter.
func (m *Metrics) IncReadinessFallbacks() {
	if m == nil {
		return
	}
	m.readinessFallbacks.Inc()
}

// ObserveSubmission records one submit outcome and its latency.
func (m *Metrics) ObserveSubmission(flow Flow, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(flow.String(), outcome).Inc()
	m.submitDuration.Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.intentsRequested,
		m.intentsSuperseded,
		m.readinessFallbacks,
		m.submissions,
		m.submitDuration,
	}
}
