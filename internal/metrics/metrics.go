// Package metrics defines Prometheus metrics for the chat server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectionsActive is the current number of admitted TCP sessions.
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatserver_connections_active",
			Help: "Currently admitted client connections",
		},
	)

	// ConnectionsAcceptedTotal counts every connection the acceptor admitted.
	ConnectionsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatserver_connections_accepted_total",
			Help: "Total connections admitted by the acceptor",
		},
	)

	// ConnectionsRejectedTotal counts refusals, labeled by coarse reason category.
	ConnectionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatserver_connections_rejected_total",
			Help: "Total connections refused by the admission pipeline",
		},
		[]string{"reason"},
	)

	// MessagesDeliveredTotal counts CHAT frames successfully fanned out.
	MessagesDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatserver_messages_delivered_total",
			Help: "Total chat messages successfully delivered to at least one peer",
		},
	)

	// MessagesDroppedTotal counts dropped frames, labeled by cause.
	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatserver_messages_dropped_total",
			Help: "Total chat messages dropped before delivery",
		},
		[]string{"reason"},
	)

	// RenamesTotal counts successful username changes.
	RenamesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatserver_renames_total",
			Help: "Total successful username changes",
		},
	)

	// IPBlocksTotal counts connection-limiter temporary IP blocks applied.
	IPBlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatserver_ip_blocks_total",
			Help: "Total temporary IP blocks applied by the connection limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsAcceptedTotal,
		ConnectionsRejectedTotal,
		MessagesDeliveredTotal,
		MessagesDroppedTotal,
		RenamesTotal,
		IPBlocksTotal,
	)
}
