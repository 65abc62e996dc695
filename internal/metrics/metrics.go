// Package metrics exposes Prometheus collectors for the payment engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	TransfersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "transfer",
			Name:      "submitted_total",
			Help:      "Transactions submitted to the ledger.",
		},
		[]string{"mode"},
	)

	TransfersConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "transfer",
			Name:      "confirmed_total",
			Help:      "Transactions confirmed by the ledger.",
		},
		[]string{"mode"},
	)

	TransfersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "transfer",
			Name:      "rejected_total",
			Help:      "Transactions rejected at the ledger level.",
		},
		[]string{"mode"},
	)

	TransfersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "transfer",
			Name:      "failed_total",
			Help:      "Transfers that failed before or during submission.",
		},
		[]string{"mode", "stage"},
	)

	EscrowsSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "escrow",
			Name:      "swept_total",
			Help:      "Escrows processed by the expiry sweep.",
		},
		[]string{"outcome"},
	)

	IdempotencyDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "idempotency",
			Name:      "duplicates_total",
			Help:      "Operations collapsed onto an existing record.",
		},
	)

	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payengine",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Operations rejected by admission control.",
		},
		[]string{"class"},
	)
)

func init() {
	Registry.MustRegister(
		TransfersSubmitted,
		TransfersConfirmed,
		TransfersRejected,
		TransfersFailed,
		EscrowsSwept,
		IdempotencyDuplicates,
		RateLimitRejections,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
