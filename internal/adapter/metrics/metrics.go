// Package metrics holds the Prometheus collectors of the bot. Every recorder
// is nil-safe so components can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/dixxi1208/GryazBot/internal/platform/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gryaz"

// NewRegistry creates a registry with Go runtime and process collectors and a
// gryaz_build_info gauge labelled with the running version.
func NewRegistry() *prometheus.Registry {
	info := version.Get()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1, labelled with the build that is running.",
			ConstLabels: prometheus.Labels{
				"version":    info.Version,
				"commit":     info.Commit,
				"go_version": info.GoVersion,
			},
		}, func() float64 { return 1 }),
	)
	return reg
}

// PollRules are the configured timing rules, exported as constant gauges.
type PollRules struct {
	Driver         string
	VoteTimeout    time.Duration
	TargetCooldown time.Duration
	SweepInterval  time.Duration
}

func RegisterPollRules(reg prometheus.Registerer, rules PollRules) {
	constGauge := func(name, help string, v float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return v })
	}

	reg.MustRegister(
		constGauge("vote_timeout_seconds", "Configured poll lifetime; 0 or less disables expiry.", rules.VoteTimeout.Seconds()),
		constGauge("target_cooldown_seconds", "Configured cooldown after a passed or cancelled poll.", rules.TargetCooldown.Seconds()),
		constGauge("sweep_interval_seconds", "Effective sweep period; 0 when the sweeper is disabled.", rules.SweepInterval.Seconds()),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "store_info",
			Help:        "Always 1, labelled with the store backend.",
			ConstLabels: prometheus.Labels{"driver": rules.Driver},
		}, func() float64 { return 1 }),
	)
}

// Handler serves reg. Collector errors are reported per metric instead of
// failing the whole scrape.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
	})
}
