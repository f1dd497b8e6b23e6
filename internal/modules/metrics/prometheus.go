// Package metrics implements internal/queue.Metrics against
// prometheus/client_golang, exposing rebalance outcomes and queue
// backpressure as the gauges/counters spec.md §4.5.3 step 7 calls for.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// slowRebalanceThreshold is spec.md §4.5.3 step 7's ">500ms" warning
// cutoff for one symbol's rebalance pass.
const slowRebalanceThreshold = 500 * time.Millisecond

// PrometheusMetrics implements queue.Metrics.
type PrometheusMetrics struct {
	rebalanceTotal      *prometheus.CounterVec
	cancelledTotal      *prometheus.CounterVec
	promotedTotal       *prometheus.CounterVec
	rebalanceDuration   *prometheus.HistogramVec
	slowRebalanceTotal  *prometheus.CounterVec
	pendingSymbolsGauge prometheus.Gauge
	log                 zerolog.Logger
}

// NewPrometheusMetrics registers every metric against reg. Tests and
// cmd/server both pass a fresh prometheus.NewRegistry(); Handler below
// serves that registry.
func NewPrometheusMetrics(reg prometheus.Registerer, log zerolog.Logger) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		rebalanceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_rebalance_total",
			Help: "Total number of per-symbol rebalance passes run.",
		}, []string{"symbol"}),
		cancelledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_rebalance_cancelled_total",
			Help: "Total number of live orders cancelled-and-parked by the rebalancer.",
		}, []string{"symbol"}),
		promotedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_rebalance_promoted_total",
			Help: "Total number of pending orders promoted to live orders by the rebalancer.",
		}, []string{"symbol"}),
		rebalanceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_rebalance_duration_seconds",
			Help:    "Duration of one per-symbol rebalance pass.",
			Buckets: prometheus.DefBuckets,
		}, []string{"symbol"}),
		slowRebalanceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_rebalance_slow_total",
			Help: "Total number of rebalance passes exceeding the 500ms warning threshold.",
		}, []string{"symbol"}),
		pendingSymbolsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_pending_backpressure_symbols",
			Help: "Number of (account, symbol) pairs over the pending-order backpressure warn threshold.",
		}),
		log: log.With().Str("component", "metrics").Logger(),
	}
}

// RecordRebalance implements queue.Metrics.
func (m *PrometheusMetrics) RecordRebalance(symbol string, cancelled, promoted int, duration time.Duration) {
	m.rebalanceTotal.WithLabelValues(symbol).Inc()
	m.cancelledTotal.WithLabelValues(symbol).Add(float64(cancelled))
	m.promotedTotal.WithLabelValues(symbol).Add(float64(promoted))
	m.rebalanceDuration.WithLabelValues(symbol).Observe(duration.Seconds())

	if duration > slowRebalanceThreshold {
		m.slowRebalanceTotal.WithLabelValues(symbol).Inc()
		m.log.Warn().Str("symbol", symbol).Dur("duration", duration).Msg("rebalance pass exceeded 500ms")
	}
}

// RecordBackpressure implements queue.Metrics.
func (m *PrometheusMetrics) RecordBackpressure(pendingSymbolCount int) {
	m.pendingSymbolsGauge.Set(float64(pendingSymbolCount))
}

// Handler returns the /metrics HTTP handler for reg. internal/server
// mounts it at the router root, outside the /api/admin routes.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
