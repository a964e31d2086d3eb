// utils/metrics.go
package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_jobs_processed_total",
		Help: "Completed queue jobs by queue name.",
	}, []string{"queue"})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_jobs_failed_total",
		Help: "Failed queue job attempts by queue name.",
	}, []string{"queue"})

	PayoutsByOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_payouts_total",
		Help: "Payout terminal outcomes by provider and status.",
	}, []string{"provider", "status"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_webhook_deliveries_total",
		Help: "Inbound webhook deliveries by source and result.",
	}, []string{"source", "result"})
)
