package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	AuthzRequests    *prometheus.CounterVec
	UserAuthRequests *prometheus.CounterVec
	Broadcasts       *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	WebhookRejected  prometheus.Counter
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthzRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pogo_bridge",
			Name:      "authz_requests_total",
			Help:      "Channel authorization requests by result",
		}, []string{"result"}),
		UserAuthRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pogo_bridge",
			Name:      "user_auth_requests_total",
			Help:      "User authentication requests by result",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pogo_bridge",
			Name:      "broadcasts_total",
			Help:      "Broadcast dispatches by delivery path",
		}, []string{"path"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pogo_bridge",
			Name:      "webhook_events_total",
			Help:      "Verified webhook events by name",
		}, []string{"event"}),
		WebhookRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pogo_bridge",
			Name:      "webhook_rejected_total",
			Help:      "Webhook deliveries rejected for a bad signature",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.AuthzRequests,
			m.UserAuthRequests,
			m.Broadcasts,
			m.WebhookEvents,
			m.WebhookRejected,
		)
	}
	return m
}

// IncBroadcast implements broadcast.Stats.
func (m *Metrics) IncBroadcast(path string) {
	m.Broadcasts.WithLabelValues(path).Inc()
}
