// Package metrics exposes the gateway's Prometheus collectors. Everything is
// registered on the default registry at init via promauto, so wiring is just
// importing the package and mounting promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Chat completion requests by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "End-to-end request latency by provider.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "streamed"})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_tokens_total",
		Help: "Tokens consumed by provider, model and direction.",
	}, []string{"provider", "model", "direction"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_hits_total",
		Help: "Completion cache lookups by result.",
	}, []string{"result"})

	QueueEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_log_enqueue_failures_total",
		Help: "Log records that could not be enqueued.",
	})

	WorkerBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_worker_batches_total",
		Help: "Log batches processed by the billing worker.",
	})

	WorkerBillingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_worker_billing_errors_total",
		Help: "Debit attempts that failed at the store.",
	})

	CreditsDebited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_credits_debited_total",
		Help: "Credits debited from organization balances.",
	}, []string{"organization"})

	TopUpsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_auto_top_ups_total",
		Help: "Auto-top-up attempts by outcome.",
	}, []string{"outcome"})
)
