package probe

import "github.com/prometheus/client_golang/prometheus"

const outcomeOK = "ok"

var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpw_probe_total",
			Help: "Total number of diagnostic probe runs by outcome.",
		},
		[]string{"outcome"},
	)

	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpw_probe_duration_seconds",
			Help:    "Duration of successful diagnostic probes, from dial to response, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(probesTotal)
	prometheus.MustRegister(probeDuration)

	for _, o := range []string{outcomeOK, "dial_error", "write_error", "read_error"} {
		probesTotal.WithLabelValues(o)
	}
}
