package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "roomcast"

// Metrics holds the Prometheus collectors for the signaling server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	rooms        prometheus.Gauge
	participants prometheus.Gauge
	connections  prometheus.Gauge
	inbound      *prometheus.CounterVec
	delivered    prometheus.Counter
	dropped      prometheus.Counter
	denied       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Number of rooms with at least one participant",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "participants_active",
			Help:      "Participant records across all rooms",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Live signaling connections",
		}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by type",
		}, []string{"type"}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Frames queued to a recipient",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_dropped_total",
			Help:      "Frames lost because the recipient was gone or too slow",
		}),
		denied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "denied_actions_total",
			Help:      "Operations rejected by the authorization policy",
		}, []string{"action"}),
	}
}

func (m *Metrics) RoomCreated() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) RoomDeleted() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) ParticipantAdded() {
	if m != nil {
		m.participants.Inc()
	}
}

func (m *Metrics) ParticipantRemoved() {
	if m != nil {
		m.participants.Dec()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Inbound(kind string) {
	if m != nil {
		m.inbound.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Delivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) Denied(action string) {
	if m != nil {
		m.denied.WithLabelValues(action).Inc()
	}
}
