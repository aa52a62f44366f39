// Package adminmetrics defines Prometheus metrics for the admin HTTP surface
// itself, kept distinct from internal/metrics (the chat-core counters) so
// that admin API traffic never pollutes chat-domain instrumentation.
package adminmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatserver_admin_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatserver_admin_http_requests_total",
			Help: "Total admin HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MonitorEventsTotal counts join/leave/rename events broadcast on the
	// monitor feed.
	MonitorEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatserver_admin_monitor_events_total",
			Help: "Total events broadcast on the monitor feed",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestDuration, RequestsTotal, MonitorEventsTotal)
}
