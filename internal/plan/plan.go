package plan

import (
	"errors"
	"fmt"

	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// ErrBatchIndexOutOfRange signals a batch index outside the plan bounds.
// This is an internal invariant violation: it never occurs when the
// coordinator honors TotalBatches, so callers treat it as fatal.
var ErrBatchIndexOutOfRange = errors.New("batch index out of plan range")

// Plan is the immutable batch-index -> checkpoint mapping for one run.
//
// With n checkpoints and k iterations per checkpoint, the plan covers
// n*k batches and batch i maps to checkpoint i/k. With no checkpoints
// the plan is a pass-through: it keeps the host's requested batch count
// and maps no batch to any checkpoint.
type Plan struct {
	checkpoints   []models.CheckpointRef
	perCheckpoint int
	totalBatches  int
}

// Build computes the batch plan from the enumerated checkpoint sequence.
// hostRequested is the batch count the host had configured before the
// multiplier override; it is only used in the empty pass-through case.
func Build(checkpoints []models.CheckpointRef, perCheckpoint, hostRequested int) (*Plan, error) {
	if perCheckpoint < 1 {
		return nil, fmt.Errorf("iterations per checkpoint must be at least 1 (got %d)", perCheckpoint)
	}
	if hostRequested < 1 {
		return nil, fmt.Errorf("host requested batch count must be at least 1 (got %d)", hostRequested)
	}

	if len(checkpoints) == 0 {
		return &Plan{perCheckpoint: perCheckpoint, totalBatches: hostRequested}, nil
	}

	cps := make([]models.CheckpointRef, len(checkpoints))
	copy(cps, checkpoints)

	return &Plan{
		checkpoints:   cps,
		perCheckpoint: perCheckpoint,
		totalBatches:  len(cps) * perCheckpoint,
	}, nil
}

// TotalBatches returns the effective batch count the host must execute.
func (p *Plan) TotalBatches() int {
	return p.totalBatches
}

// PerCheckpoint returns the iteration multiplier the plan was built with.
func (p *Plan) PerCheckpoint() int {
	return p.perCheckpoint
}

// Checkpoints returns the planned checkpoint sequence in iteration order.
func (p *Plan) Checkpoints() []models.CheckpointRef {
	cps := make([]models.CheckpointRef, len(p.checkpoints))
	copy(cps, p.checkpoints)
	return cps
}

// IsPassthrough reports whether the plan defers entirely to host
// defaults (no checkpoints were found).
func (p *Plan) IsPassthrough() bool {
	return len(p.checkpoints) == 0
}

// CheckpointFor maps a batch index to its checkpoint. In the
// pass-through case it returns ok=false with a zero ref: the host's own
// currently loaded model stays in effect.
func (p *Plan) CheckpointFor(batchIndex int) (ref models.CheckpointRef, ok bool, err error) {
	if batchIndex < 0 || batchIndex >= p.totalBatches {
		return models.CheckpointRef{}, false, fmt.Errorf("%w: %d not in [0, %d)", ErrBatchIndexOutOfRange, batchIndex, p.totalBatches)
	}
	if len(p.checkpoints) == 0 {
		return models.CheckpointRef{}, false, nil
	}
	return p.checkpoints[batchIndex/p.perCheckpoint], true, nil
}
