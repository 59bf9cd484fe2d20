package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PollMetrics covers the poll engine. A nil *PollMetrics records nothing.
type PollMetrics struct {
	PollsOpened    prometheus.Counter
	PollsRejected  *prometheus.CounterVec
	PollsResolved  *prometheus.CounterVec
	VotesCast      *prometheus.CounterVec
	VoteDuration   prometheus.Histogram
	ScoreIncrement prometheus.Counter
	SeedsApplied   prometheus.Counter
}

func NewPollMetrics(reg prometheus.Registerer) *PollMetrics {
	m := &PollMetrics{
		PollsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_opened_total",
			Help:      "Total number of call-out polls opened.",
		}),
		PollsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_rejected_total",
			Help:      "Total number of rejected nominations, by reason.",
		}, []string{"reason"}),
		PollsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_resolved_total",
			Help:      "Total number of polls leaving the open state, by final status.",
		}, []string{"status"}),
		VotesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of vote attempts, by result.",
		}, []string{"result"}),
		VoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_duration_seconds",
			Help:      "Duration of vote handling in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		ScoreIncrement: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_increments_total",
			Help:      "Total number of score increments from passed polls.",
		}),
		SeedsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_scores_applied_total",
			Help:      "Total number of seed scores written on first sight of a member.",
		}),
	}

	reg.MustRegister(m.PollsOpened, m.PollsRejected, m.PollsResolved, m.VotesCast,
		m.VoteDuration, m.ScoreIncrement, m.SeedsApplied)
	return m
}

func (m *PollMetrics) Opened() {
	if m != nil {
		m.PollsOpened.Inc()
	}
}

func (m *PollMetrics) Rejected(reason string) {
	if m != nil {
		m.PollsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *PollMetrics) Resolved(status string) {
	if m != nil {
		m.PollsResolved.WithLabelValues(status).Inc()
	}
}

func (m *PollMetrics) Vote(result string, took time.Duration) {
	if m != nil {
		m.VotesCast.WithLabelValues(result).Inc()
		m.VoteDuration.Observe(took.Seconds())
	}
}

func (m *PollMetrics) Scored() {
	if m != nil {
		m.ScoreIncrement.Inc()
	}
}

func (m *PollMetrics) Seeded() {
	if m != nil {
		m.SeedsApplied.Inc()
	}
}
