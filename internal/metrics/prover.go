package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proverStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "w3b_reserve",
		Subsystem: "prover",
		Name:      "stage_duration_seconds",
		Help:      "Duration of proving toolchain stages per batch.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage", "status"})
	proverRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "w3b_reserve",
		Subsystem: "prover",
		Name:      "runs_total",
		Help:      "Count of proving runs.",
	}, []string{"status"})
	proverRunBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "w3b_reserve",
		Subsystem: "prover",
		Name:      "last_run_batches",
		Help:      "Batch count of the last proving run.",
	})
)

// Prover tracks metrics for the proof orchestrator.
type Prover struct{}

// NewProver creates a Prover metrics collector.
func NewProver() *Prover {
	return &Prover{}
}

// ObserveStage records one toolchain stage invocation.
func (m Prover) ObserveStage(stage string, err error, started time.Time) {
	proverStageDuration.WithLabelValues(stage, statusLabel(err)).Observe(time.Since(started).Seconds())
}

// ObserveRun records completion of a whole proving run.
func (m Prover) ObserveRun(batches int, err error) {
	proverRunsTotal.WithLabelValues(statusLabel(err)).Inc()
	if err == nil {
		proverRunBatches.Set(float64(batches))
	}
}
