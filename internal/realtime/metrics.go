package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricMessages      = "realtime_messages_total"
	MetricHandlerErrors = "realtime_handler_errors_total"
	MetricReconnects    = "realtime_reconnects_total"
	MetricConnected     = "realtime_connected"
)

// Metrics tracks the realtime channel. A nil *Metrics is a no-op.
type Metrics struct {
	messages      *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	reconnects    prometheus.Counter
	connected     prometheus.Gauge
}

// NewMetrics creates realtime metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMessages,
			Help: "Total number of realtime events received by event name",
		}, []string{"event"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHandlerErrors,
			Help: "Total number of realtime events whose handler failed",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReconnects,
			Help: "Total number of reconnect attempts",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnected,
			Help: "1 while the realtime channel is connected",
		}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncMessages counts one event.
func (m *Metrics) IncMessages(event string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(event).Inc()
}

// IncHandlerErrors counts one failed handler.
func (m *Metrics) IncHandlerErrors(event string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(event).Inc()
}

// IncReconnects counts one reconnect attempt.
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetConnected records the connection state.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.messages, m.handlerErrors, m.reconnects, m.connected}
}
