package factory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for the System.
type Metrics struct {
	ErrorsTotal *prometheus.CounterVec

	SwapsTotal        *prometheus.CounterVec
	SwapDuration      *prometheus.HistogramVec
	TicksCrossedTotal *prometheus.CounterVec
	LiquidityOpsTotal *prometheus.CounterVec

	PoolsTotal    *prometheus.GaugeVec
	FeeTiersTotal *prometheus.GaugeVec
}

// NewMetrics creates and registers the System metrics with reg.
func NewMetrics(reg prometheus.Registerer, systemName string) *Metrics {
	return &Metrics{
		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "clmm_errors_total",
			Help:      "Total number of failed pool operations, labeled by operation.",
		}, []string{"op"}),

		SwapsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "clmm_swaps_total",
			Help:      "Total number of committed swaps, labeled by direction.",
		}, []string{"direction"}),

		SwapDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "clmm_swap_duration_seconds",
			Help:      "A histogram of the time it takes to compute and commit a swap.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{}),

		TicksCrossedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "clmm_ticks_crossed_total",
			Help:      "Total number of initialized ticks crossed by committed swaps.",
		}, []string{}),

		LiquidityOpsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "clmm_liquidity_operations_total",
			Help:      "Total number of committed mint, burn and collect operations, labeled by operation.",
		}, []string{"op"}),

		PoolsTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "clmm_pools_total",
			Help:      "The number of pools created by the system.",
		}, []string{}),

		FeeTiersTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "clmm_fee_tiers_total",
			Help:      "The number of enabled fee tiers.",
		}, []string{}),
	}
}
