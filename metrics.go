package ddns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics registered on the default registry.
var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ddns_refresh_total",
		Help: "Total number of reconciliation cycles by outcome.",
	}, []string{"outcome"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ddns_refresh_duration_seconds",
		Help:    "Duration of reconciliation cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	recordUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ddns_record_updates_total",
		Help: "Total number of DNS record updates confirmed by the nameserver.",
	})
)

func observe(res Result, seconds float64) {
	refreshDuration.Observe(seconds)
	refreshTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == OutcomeUpdated {
		recordUpdatesTotal.Inc()
	}
}
