// Package metrics provides Prometheus instrumentation for a simplenet
// server: connection counts, request outcomes, and rate-limit rejections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live sessions.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simplenet_connections_total",
		Help: "Current number of live sessions",
	})

	// RequestOutcomesTotal is the counter for terminal request outcomes,
	// labeled by "response", "ack", "reject", "send_failed", "response_lost".
	// No code in this module increments it.
	RequestOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simplenet_request_outcomes_total",
		Help: "Total terminal request outcomes by kind",
	}, []string{"outcome"})

	// RateLimitRejectionsTotal counts sessions closed for exceeding their
	// rate limit.
	RateLimitRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simplenet_rate_limit_rejections_total",
		Help: "Total sessions closed for exceeding their rate limit",
	})

	// UpgradeRejectionsTotal counts prevalidation rejections, labeled by the
	// rejection's prevalidate.RejectReason string ("version mismatch",
	// "unknown environment", "authentication failed"). Connections closed
	// for over-capacity after the upgrade are not counted here.
	UpgradeRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simplenet_upgrade_rejections_total",
		Help: "Total upgrade requests rejected during prevalidation",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RequestOutcomesTotal,
		RateLimitRejectionsTotal,
		UpgradeRejectionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
