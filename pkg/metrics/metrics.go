package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feeflow_build_info",
			Help: "Build information of the feeflow distributor",
		},
		[]string{"version", "commit", "date"},
	)

	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeflow_distribution_cycle_total",
			Help: "Total number of distribution cycles by terminal status",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feeflow_distribution_cycle_duration_seconds",
			Help:    "Duration of distribution cycles",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		},
	)

	ExecutionAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feeflow_execution_attempts",
			Help:    "Submission attempts per executed transaction",
			Buckets: prometheus.LinearBuckets(1, 1, 6),
		},
		[]string{"label", "status"},
	)

	SwapHopTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeflow_swap_hop_total",
			Help: "Total number of swap hops by status",
		},
		[]string{"hop", "status"},
	)

	BatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeflow_disbursement_batch_total",
			Help: "Total number of disbursement batches by status",
		},
		[]string{"status"},
	)

	RewardsDistributed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeflow_rewards_distributed_total",
			Help: "Total reward asset base units distributed to holders",
		},
	)

	AllocationShortfall = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeflow_allocation_shortfall_total",
			Help: "Reward base units left undistributed by floor rounding",
		},
	)

	SentinelTopUps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeflow_sentinel_transfer_total",
			Help: "Balance sentinel transfers by direction (topup, sweep)",
		},
		[]string{"direction"},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeflow_rpc_requests_total",
			Help: "Total number of ledger RPC requests",
		},
		[]string{"method", "status"},
	)
)
