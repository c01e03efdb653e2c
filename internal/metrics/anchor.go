package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	anchorRPCTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "w3b_reserve",
		Subsystem: "anchor",
		Name:      "rpc_calls_total",
		Help:      "Count of ledger RPC calls.",
	}, []string{"method", "status"})
	anchorRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "w3b_reserve",
		Subsystem: "anchor",
		Name:      "rpc_call_duration_seconds",
		Help:      "Duration of ledger RPC calls, including retries.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "status"})
)

// Anchor tracks metrics for ledger RPC calls.
type Anchor struct{}

// NewAnchor creates an Anchor metrics collector.
func NewAnchor() *Anchor {
	return &Anchor{}
}

// Observe records one ledger RPC call.
func (m Anchor) Observe(method string, err error, started time.Time) {
	status := statusLabel(err)
	anchorRPCTotal.WithLabelValues(method, status).Inc()
	anchorRPCDuration.WithLabelValues(method, status).Observe(time.Since(started).Seconds())
}
