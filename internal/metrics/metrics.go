// Package metrics exposes Prometheus collectors for the message pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	messagesSent  *prometheus.CounterVec
	jobsProcessed *prometheus.CounterVec
	sockets       prometheus.Gauge
	onlineUsers   prometheus.Gauge
}

// Job outcomes.
const (
	OutcomePersisted = "persisted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeInline    = "inline"
)

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages accepted from clients.",
		}, []string{"kind"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "persist_jobs_total",
			Help:      "Persistence jobs by outcome.",
		}, []string{"outcome"}),
		sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "connected_sockets",
			Help:      "Open WebSocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "online_users",
			Help:      "Users with at least one open connection.",
		}),
	}
	reg.MustRegister(m.messagesSent, m.jobsProcessed, m.sockets, m.onlineUsers)
	return m
}

func (m *Metrics) MessageSent(group bool) {
	if m == nil {
		return
	}
	kind := "direct"
	if group {
		kind = "group"
	}
	m.messagesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobProcessed(outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SocketOpened() {
	if m == nil {
		return
	}
	m.sockets.Inc()
}

func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.sockets.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}
