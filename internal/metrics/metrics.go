package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Swap metrics
	checkpointSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_iterator_checkpoint_swaps_total",
			Help: "Total number of checkpoint reloads issued",
		},
	)

	checkpointLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_iterator_checkpoint_load_duration_seconds",
			Help:    "Checkpoint reload duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"status"}, // "success" / "error"
	)

	// Batch metrics
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_iterator_batches_total",
			Help: "Total number of batches processed",
		},
		[]string{"status"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_iterator_batch_duration_seconds",
			Help:    "End-to-end batch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~2000s
		},
	)

	// Plan metrics
	planCheckpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_iterator_plan_checkpoints",
			Help: "Number of checkpoints in the current batch plan",
		},
	)

	planTotalBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_iterator_plan_total_batches",
			Help: "Effective batch count of the current batch plan",
		},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordSwap increments the checkpoint swap counter
func (c *Collector) RecordSwap() {
	checkpointSwaps.Inc()
}

// RecordCheckpointLoad records a checkpoint reload duration
func (c *Collector) RecordCheckpointLoad(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	checkpointLoadDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordBatch records a completed or failed batch
func (c *Collector) RecordBatch(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	batchesTotal.WithLabelValues(status).Inc()
	batchDuration.Observe(duration.Seconds())
}

// SetPlan records the dimensions of the active batch plan
func (c *Collector) SetPlan(checkpoints, totalBatches int) {
	planCheckpoints.Set(float64(checkpoints))
	planTotalBatches.Set(float64(totalBatches))
}
