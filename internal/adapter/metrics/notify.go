package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics covers poll event publishing. A nil value records nothing.
type NotificationMetrics struct {
	Published    *prometheus.CounterVec
	Failed       *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Total number of poll events published, by event type.",
		}, []string{"type"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of poll events that could not be delivered, by event type.",
		}, []string{"type"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_breaker_state",
			Help:      "Publisher circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Published, m.Failed, m.BreakerState)
	return m
}

func (m *NotificationMetrics) Success(eventType string) {
	if m != nil {
		m.Published.WithLabelValues(eventType).Inc()
	}
}

func (m *NotificationMetrics) Failure(eventType string) {
	if m != nil {
		m.Failed.WithLabelValues(eventType).Inc()
	}
}

func (m *NotificationMetrics) SetBreakerState(state int) {
	if m != nil {
		m.BreakerState.Set(float64(state))
	}
}
