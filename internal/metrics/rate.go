package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "w3b_reserve",
		Subsystem: "rate",
		Name:      "refreshes_total",
		Help:      "Count of rate refresh attempts.",
	}, []string{"status"})
	rateStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "w3b_reserve",
		Subsystem: "rate",
		Name:      "stale_serves_total",
		Help:      "Count of reads served from a stale cache after refresh failure.",
	})
	rateSwingFlags = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "w3b_reserve",
		Subsystem: "rate",
		Name:      "swing_flags_total",
		Help:      "Count of refreshes whose rate moved beyond the swing threshold.",
	})
	rateCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "w3b_reserve",
		Subsystem: "rate",
		Name:      "current",
		Help:      "Most recently cached reference rate.",
	})
)

// Rate tracks metrics for the rate cache and self-healer.
type Rate struct{}

// NewRate creates a Rate metrics collector.
func NewRate() *Rate {
	return &Rate{}
}

// ObserveRefresh records the outcome of a refresh attempt.
func (m Rate) ObserveRefresh(err error) {
	rateRefreshTotal.WithLabelValues(statusLabel(err)).Inc()
}

// ObserveStaleServe records a read served from stale cache.
func (m Rate) ObserveStaleServe() { rateStaleServes.Inc() }

// ObserveSwingFlag records a rate swing beyond the configured threshold.
func (m Rate) ObserveSwingFlag() { rateSwingFlags.Inc() }

// SetCurrent publishes the cached rate.
func (m Rate) SetCurrent(rate float64) { rateCurrent.Set(rate) }
