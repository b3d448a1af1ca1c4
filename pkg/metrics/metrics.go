package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spraydrop_build_info",
			Help: "Build information of the spraydrop distribution tool",
		},
		[]string{"version", "commit", "date"},
	)

	HolderLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spraydrop_holder_lookups_total",
			Help: "Total number of largest-holder lookups by outcome",
		},
		[]string{"status"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spraydrop_batches_total",
			Help: "Total number of distribution batches by outcome",
		},
		[]string{"status"},
	)

	PayoutInstructionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spraydrop_payout_instructions_total",
			Help: "Total number of payout instructions submitted",
		},
	)

	RawUnitsDistributedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spraydrop_raw_units_distributed_total",
			Help: "Total raw asset units included in confirmed batches",
		},
	)

	ConfirmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spraydrop_confirm_duration_seconds",
			Help:    "Time from submission to confirmation per transaction",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~64s
		},
	)

	CleanupWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spraydrop_cleanup_warnings_total",
			Help: "Total number of non-fatal cleanup failures",
		},
	)
)
