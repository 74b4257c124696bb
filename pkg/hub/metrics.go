package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the hub's Prometheus collectors. All methods are nil-safe so
// components can run without metrics in tests.
type Metrics struct {
	activeConnections prometheus.Gauge
	eventsPublished   *prometheus.CounterVec
	envelopesDropped  prometheus.Counter
	resyncsRequired   prometheus.Counter
}

// NewMetrics creates and registers the hub collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_active_connections",
			Help: "Number of live WebSocket connections.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synchub_events_published_total",
			Help: "Events published, by event type.",
		}, []string{"type"}),
		envelopesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synchub_envelopes_dropped_total",
			Help: "Outbound envelopes dropped due to backpressure.",
		}),
		resyncsRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synchub_resyncs_required_total",
			Help: "Replay requests that exceeded the retention window.",
		}),
	}
	reg.MustRegister(m.activeConnections, m.eventsPublished, m.envelopesDropped, m.resyncsRequired)
	return m
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.activeConnections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

func (m *Metrics) eventPublished(eventType string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) envelopeDropped() {
	if m != nil {
		m.envelopesDropped.Inc()
	}
}

func (m *Metrics) resyncRequired() {
	if m != nil {
		m.resyncsRequired.Inc()
	}
}
