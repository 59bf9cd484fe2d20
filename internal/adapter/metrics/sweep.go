package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics covers the expiration sweeper. A nil *SweepMetrics records nothing.
type SweepMetrics struct {
	Runs     *prometheus.CounterVec
	Expired  prometheus.Counter
	Duration prometheus.Histogram
	Leader   prometheus.Gauge
}

func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	m := &SweepMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total number of sweep ticks, by result.",
		}, []string{"result"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_polls_total",
			Help:      "Total number of polls expired by the sweeper.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of a sweep in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		Leader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "leader",
			Help:      "1 when this instance holds the sweep lock.",
		}),
	}

	reg.MustRegister(m.Runs, m.Expired, m.Duration, m.Leader)
	return m
}

func (m *SweepMetrics) Run(result string, expired int, took time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
	m.Expired.Add(float64(expired))
	m.Duration.Observe(took.Seconds())
}

func (m *SweepMetrics) SetLeader(leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.Leader.Set(1)
	} else {
		m.Leader.Set(0)
	}
}
