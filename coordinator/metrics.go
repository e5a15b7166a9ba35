package coordinator

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts compensations and notification publishes.
type Metrics struct {
	Compensations *prometheus.CounterVec
	Published     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmanager",
			Name:      "compensations_total",
			Help:      "Compensating actions run after a failed dual write.",
		}, []string{"op", "outcome"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmanager",
			Name:      "notifications_published_total",
			Help:      "Notifications handed to the notification queue.",
		}, []string{"type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Compensations, m.Published)
	}
	return m
}
