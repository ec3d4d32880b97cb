// Package metrics exposes the relay server's Prometheus collectors.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "camelrace"

// Metrics holds the relay server's collectors.
type Metrics struct {
	connections       *prometheus.CounterVec
	handshakeFailures prometheus.Counter
	groupsFormed      prometheus.Counter
	groupsFinished    prometheus.Counter
	waitingMembers    prometheus.Gauge
	activeMembers     prometheus.Gauge
	relayed           *prometheus.CounterVec
	sendFailures      prometheus.Counter
	malformed         prometheus.Counter
	evictions         prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted control connections by transport.",
		}, []string{"transport"}),
		handshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Connections dropped before a valid connection request.",
		}),
		groupsFormed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_formed_total",
			Help:      "Groups that reached the party size.",
		}),
		groupsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_finished_total",
			Help:      "Groups that reached the FINISHED state.",
		}),
		waitingMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_members",
			Help:      "Members of the group currently being filled.",
		}),
		activeMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_members",
			Help:      "Members with a running relay task.",
		}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages forwarded by the relay, by message kind.",
		}, []string{"kind"}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Messages that could not be delivered to a member.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Relay payloads that could not be decoded.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_evictions_total",
			Help:      "Clients removed from the liveness table.",
		}),
	}
}

func (m *Metrics) ConnectionAccepted(transport string) {
	if m != nil {
		m.connections.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) HandshakeFailed() {
	if m != nil {
		m.handshakeFailures.Inc()
	}
}

func (m *Metrics) GroupFormed() {
	if m != nil {
		m.groupsFormed.Inc()
	}
}

func (m *Metrics) GroupFinished() {
	if m != nil {
		m.groupsFinished.Inc()
	}
}

func (m *Metrics) SetWaiting(n int) {
	if m != nil {
		m.waitingMembers.Set(float64(n))
	}
}

func (m *Metrics) MemberStarted() {
	if m != nil {
		m.activeMembers.Inc()
	}
}

func (m *Metrics) MemberStopped() {
	if m != nil {
		m.activeMembers.Dec()
	}
}

func (m *Metrics) Relayed(kind string) {
	if m != nil {
		m.relayed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) Malformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil {
		m.evictions.Add(float64(n))
	}
}
