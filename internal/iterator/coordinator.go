package iterator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kelsjon3/forge-iterator/internal/config"
	"github.com/kelsjon3/forge-iterator/internal/metrics"
	"github.com/kelsjon3/forge-iterator/internal/plan"
	"github.com/kelsjon3/forge-iterator/internal/scan"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// BatchHooks is the lifecycle capability the host generation pipeline
// invokes around a run. OnRunStart returns the effective batch count
// the host must execute in place of its own configured count; the
// multiplier feature has no effect unless the host honors it before
// batch execution begins.
type BatchHooks interface {
	OnRunStart(ctx context.Context, requestedBatchCount int) (int, error)
	OnBatch(ctx context.Context, batchIndex int, overrides map[string]string) (map[string]string, error)
	OnRunEnd()
}

// Coordinator orchestrates enumeration, plan building, checkpoint swaps
// and metadata rewriting in response to host lifecycle events. It is
// single-threaded by contract: the host drives it with synchronous
// callbacks in strictly increasing batch order.
type Coordinator struct {
	cfg     config.IteratorConfig
	enum    scan.Enumerator
	swap    *SwapController
	metrics *metrics.Collector
	logger  *slog.Logger

	state *RunState
	stats models.RunStats
}

// NewCoordinator wires the coordinator from its collaborators. The
// enumerator and loader are injected so runs are testable without a
// filesystem or a live host.
func NewCoordinator(cfg config.IteratorConfig, enum scan.Enumerator, loader Loader, collector *metrics.Collector, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		enum:    enum,
		swap:    NewSwapController(loader, collector, logger),
		metrics: collector,
		logger:  logger,
	}
}

// OnRunStart enumerates checkpoints, builds the batch plan and returns
// the effective batch count. With the iterator disabled it performs no
// enumeration and returns the host's count unchanged, guaranteeing zero
// behavioral change while other batch-level extensions share the run.
//
// Enumeration and plan errors surface here, before any batch executes.
func (c *Coordinator) OnRunStart(ctx context.Context, requestedBatchCount int) (int, error) {
	c.stats = models.RunStats{StartTime: time.Now()}

	if !c.cfg.Enabled {
		c.logger.Debug("Iterator disabled, passing through", "batch_count", requestedBatchCount)
		return requestedBatchCount, nil
	}

	refs, err := c.enum.Enumerate(ctx, c.cfg.Subfolder)
	if err != nil {
		return 0, fmt.Errorf("checkpoint enumeration failed: %w", err)
	}

	p, err := plan.Build(refs, c.cfg.IterationsPerCheckpoint, requestedBatchCount)
	if err != nil {
		return 0, fmt.Errorf("failed to build batch plan: %w", err)
	}

	c.state = &RunState{Plan: p}
	c.stats.TotalBatches = p.TotalBatches()
	c.metrics.SetPlan(len(refs), p.TotalBatches())

	if p.IsPassthrough() {
		c.logger.Warn("No checkpoints found in subfolder, passing through",
			"subfolder", c.cfg.Subfolder,
			"batch_count", requestedBatchCount)
		return requestedBatchCount, nil
	}

	// Reconcile with whatever the host already has in memory so a
	// matching first checkpoint does not trigger a redundant swap.
	if current, ok, err := c.swap.loader.CurrentlyLoaded(ctx); err != nil {
		c.logger.Warn("Failed to query currently loaded checkpoint", "error", err)
	} else if ok {
		c.state.Current = current
		c.logger.Debug("Reconciled with loaded checkpoint", "checkpoint", current.Name)
	}

	c.logger.Info("Batch plan built",
		"subfolder", c.cfg.Subfolder,
		"checkpoints", len(refs),
		"iterations_per_checkpoint", c.cfg.IterationsPerCheckpoint,
		"effective_batches", p.TotalBatches(),
		"requested_batches", requestedBatchCount)

	return p.TotalBatches(), nil
}

// OnBatch ensures the planned checkpoint for batchIndex is loaded, then
// rewrites the metadata overrides to record it. The swap completes
// before the metadata is written; a load failure aborts the run.
func (c *Coordinator) OnBatch(ctx context.Context, batchIndex int, overrides map[string]string) (map[string]string, error) {
	if c.state == nil {
		// Disabled, or no run in progress: pure pass-through.
		return overrides, nil
	}

	didSwap, _, err := c.swap.EnsureLoaded(ctx, c.state, batchIndex)
	if err != nil {
		c.stats.FailureCount++
		return overrides, fmt.Errorf("batch %d: %w", batchIndex, err)
	}
	if didSwap {
		c.stats.SwapCount++
	}

	c.stats.CompletedBatches++

	return Annotate(c.state, overrides), nil
}

// OnRunEnd releases the run state. It is safe to call after an abort or
// interrupt: whatever checkpoint was last successfully loaded stays in
// memory, and no partial state leaks into a subsequent run.
func (c *Coordinator) OnRunEnd() {
	c.stats.EndTime = time.Now()
	c.stats.TotalDuration = c.stats.EndTime.Sub(c.stats.StartTime)

	if c.state != nil {
		c.logger.Info("Run ended",
			"completed_batches", c.stats.CompletedBatches,
			"total_batches", c.stats.TotalBatches,
			"swaps", c.stats.SwapCount,
			"last_checkpoint", c.state.Current.Name,
			"duration", c.stats.TotalDuration)
	}

	c.state = nil
}

// Plan returns the active batch plan, or nil while no run is in
// progress or the iterator is disabled.
func (c *Coordinator) Plan() *plan.Plan {
	if c.state == nil {
		return nil
	}
	return c.state.Plan
}

// Stats returns a copy of the current run statistics.
func (c *Coordinator) Stats() models.RunStats {
	return c.stats
}

var _ BatchHooks = (*Coordinator)(nil)
