package iterator

import (
	"context"
	"log/slog"
	"time"

	"github.com/kelsjon3/forge-iterator/internal/metrics"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// SwapController decides per batch whether the active model must change
// and issues the blocking reload when it does. The in-memory model is a
// single exclusive resource; only this controller mutates
// RunState.Current.
type SwapController struct {
	loader  Loader
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewSwapController creates a swap controller over the given loader.
func NewSwapController(loader Loader, collector *metrics.Collector, logger *slog.Logger) *SwapController {
	return &SwapController{
		loader:  loader,
		metrics: collector,
		logger:  logger,
	}
}

// EnsureLoaded makes the checkpoint mapped to batchIndex the active
// model. It is a no-op when the plan is a pass-through or when the
// target is already loaded, so consecutive batches on the same
// checkpoint never re-trigger the expensive reload.
//
// On a load failure the returned error wraps a *LoadError and
// RunState.Current is left at the last successfully loaded checkpoint.
func (s *SwapController) EnsureLoaded(ctx context.Context, state *RunState, batchIndex int) (didSwap bool, active models.CheckpointRef, err error) {
	target, ok, err := state.Plan.CheckpointFor(batchIndex)
	if err != nil {
		return false, state.Current, err
	}
	if !ok {
		// Pass-through plan: the host's own loaded model stays in effect.
		return false, state.Current, nil
	}

	if target.Name == state.Current.Name {
		return false, state.Current, nil
	}

	s.logger.Info("Swapping checkpoint",
		"batch_index", batchIndex,
		"from", state.Current.Name,
		"to", target.Name)

	start := time.Now()
	if err := s.loader.Load(ctx, target); err != nil {
		s.metrics.RecordCheckpointLoad(time.Since(start), false)
		return false, state.Current, &LoadError{Checkpoint: target, Err: err}
	}
	s.metrics.RecordCheckpointLoad(time.Since(start), true)
	s.metrics.RecordSwap()

	state.Current = target
	s.logger.Debug("Checkpoint loaded",
		"checkpoint", target.Name,
		"duration", time.Since(start))

	return true, target, nil
}
