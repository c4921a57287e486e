package iterator

import (
	"context"
	"fmt"

	"github.com/kelsjon3/forge-iterator/internal/plan"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// Loader is the checkpoint storage/loading subsystem: it physically
// swaps model weights into memory. Load blocks until the reload
// completes or fails.
type Loader interface {
	Load(ctx context.Context, ref models.CheckpointRef) error
	// CurrentlyLoaded reports the checkpoint the host has in memory, if
	// any. Used once at run start so a plan whose first checkpoint is
	// already loaded does not trigger a redundant swap.
	CurrentlyLoaded(ctx context.Context) (models.CheckpointRef, bool, error)
}

// LoadError reports a checkpoint that failed to load mid-run. The run
// coordinator aborts the remaining batches on this error: continuing
// would produce images mislabeled with the wrong checkpoint.
type LoadError struct {
	Checkpoint models.CheckpointRef
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load checkpoint %s: %v", e.Checkpoint.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// RunState is the mutable state of a single generation run. It is
// created at run start, released at run end, and exclusively owned by
// one Coordinator; no two runs share a RunState.
type RunState struct {
	Plan *plan.Plan
	// Current is the last successfully loaded checkpoint. Zero while
	// nothing planned has been loaded yet. Only the swap controller
	// mutates it.
	Current models.CheckpointRef
}
