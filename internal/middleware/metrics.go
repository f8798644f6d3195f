package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricHTTPClientRequestDuration = "api_client_request_duration_seconds"
	MetricHTTPClientRequestsTotal   = "api_client_requests_total"
)

// Metrics records latency and outcome of outgoing backend requests, labelled
// by method, normalized path and status.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

// NewMetrics returns unregistered collectors. Call Register before use.
func NewMetrics() *Metrics {
	return &Metrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPClientRequestDuration,
				Help:    "Latency of Shot On Me backend requests in seconds",
				Buckets: []float64{0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPClientRequestsTotal,
				Help: "Shot On Me backend requests by outcome",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRequest records one completed request.
// status is the HTTP status code as a string, or "error" / "canceled" when no response arrived.
func (m *Metrics) ObserveRequest(method, path, status string, seconds float64) {
	m.requestDuration.WithLabelValues(method, path, status).Observe(seconds)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestDuration,
		m.requestsTotal,
	}
}
