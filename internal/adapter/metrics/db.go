package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBMetrics covers store queries. A nil value records nothing.
type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
	Errors        *prometheus.CounterVec
}

func NewDBMetrics(reg prometheus.Registerer) *DBMetrics {
	m := &DBMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Store query duration, by statement kind.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"query"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of failed store queries, by statement kind.",
		}, []string{"query"}),
	}

	reg.MustRegister(m.QueryDuration, m.Errors)
	return m
}

func (m *DBMetrics) Query(name string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(name).Observe(seconds)
	if failed {
		m.Errors.WithLabelValues(name).Inc()
	}
}
