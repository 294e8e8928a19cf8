package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/remote-playwright/internal/model"
)

var (
	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpw_launches_total",
			Help: "Total number of browser server launches by engine and final status.",
		},
		[]string{"engine", "status"},
	)

	launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpw_launch_duration_seconds",
			Help:    "Time from launch request to ready or failed, in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"engine"},
	)

	activeServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpw_active_servers",
			Help: "Number of browser servers currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(launchesTotal)
	prometheus.MustRegister(launchDuration)
	prometheus.MustRegister(activeServers)

	for _, e := range model.Engines {
		for _, s := range []string{model.StatusReady, model.StatusFailed} {
			launchesTotal.WithLabelValues(string(e), s)
		}
	}
}
