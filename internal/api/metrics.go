package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	statusRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpw_status_requests_total",
			Help: "Status API requests by route and response code.",
		},
		[]string{"method", "route", "code"},
	)

	statusRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpw_status_request_duration_seconds",
			Help:    "Status API response time in seconds, log streams excluded.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route"},
	)

	logStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rpw_log_streams",
		Help: "Open server output streams.",
	})
)

func init() {
	prometheus.MustRegister(statusRequests, statusRequestDuration, logStreams)
}

const streamRoute = "/v1/launches/{id}/logs"

// instrument counts status API requests by chi route pattern. Scrapes of
// /metrics are not counted, and log streams are left out of the latency
// histogram since they last as long as the server runs.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if route == "/metrics" {
			return
		}

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		statusRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		if route != streamRoute {
			statusRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
