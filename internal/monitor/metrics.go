package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters exposed on the ops /metrics endpoint.
type Metrics struct {
	Polls          prometheus.Counter
	PollErrors     prometheus.Counter
	EventsDetected *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	Heartbeats     prometheus.Counter
	Backoffs       prometheus.Counter
}

// NewMetrics registers the monitor counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "spot_agent_polls_total",
			Help: "Successful scheduled-events polls.",
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "spot_agent_poll_errors_total",
			Help: "Failed scheduled-events polls.",
		}),
		EventsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_agent_events_detected_total",
			Help: "Disruptive scheduled events detected, by event type.",
		}, []string{"event_type"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_agent_notifications_total",
			Help: "Webhook notification attempts, by outcome.",
		}, []string{"outcome"}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Name: "spot_agent_heartbeats_total",
			Help: "Heartbeat notifications sent.",
		}),
		Backoffs: factory.NewCounter(prometheus.CounterOpts{
			Name: "spot_agent_backoffs_total",
			Help: "Extended backoff sleeps entered after repeated errors.",
		}),
	}
}
