package notification

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks read-state changes. A nil *Metrics is a no-op.
type Metrics struct {
	markedRead  *prometheus.CounterVec
	received    prometheus.Counter
	unread      prometheus.Gauge
	cacheErrors prometheus.Counter
}

// NewMetrics creates notification metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		markedRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_marked_read_total",
			Help: "Total number of mark-read operations by scope (one, all)",
		}, []string{"scope"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_received_total",
			Help: "Total number of notifications pushed over the realtime channel",
		}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifications_unread",
			Help: "Current unread notification count",
		}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_count_cache_errors_total",
			Help: "Total number of failed unread count cache writes",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncMarkedRead counts one mark-read call. scope is "one" or "all".
func (m *Metrics) IncMarkedRead(scope string) {
	if m == nil {
		return
	}
	m.markedRead.WithLabelValues(scope).Inc()
}

// IncReceived counts one pushed notification.
func (m *Metrics) IncReceived() {
	if m == nil {
		return
	}
	m.received.Inc()
}

// SetUnread records the current badge.
func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}

// IncCacheErrors counts one failed cache write.
func (m *Metrics) IncCacheErrors() {
	if m == nil {
		return
	}
	m.cacheErrors.Inc()
}

// Collectors returns every collector, for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.markedRead, m.received, m.unread, m.cacheErrors}
}
