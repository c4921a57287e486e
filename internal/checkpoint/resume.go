package checkpoint

import (
	"fmt"
	"sort"

	"github.com/kelsjon3/forge-iterator/internal/config"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// ValidateCheckpoint verifies that a loaded checkpoint is compatible
// with the current configuration. Resuming under a different subfolder,
// multiplier or prompt would remap batch indices to different
// checkpoints and mislabel everything generated so far.
func ValidateCheckpoint(cp *models.RunCheckpoint, cfg *config.Config) error {
	if cp.Complete {
		return fmt.Errorf("checkpoint is already complete, nothing to resume")
	}
	if cp.ConfigHash != cfg.Hash() {
		return fmt.Errorf("config mismatch: checkpoint was created with different iterator settings (hash %s, current %s)",
			cp.ConfigHash, cfg.Hash())
	}
	if cp.Subfolder != cfg.Iterator.Subfolder {
		return fmt.Errorf("subfolder mismatch: checkpoint %q vs config %q", cp.Subfolder, cfg.Iterator.Subfolder)
	}
	if cp.PerCheckpoint != cfg.Iterator.IterationsPerCheckpoint {
		return fmt.Errorf("iterations_per_checkpoint mismatch: checkpoint %d vs config %d",
			cp.PerCheckpoint, cfg.Iterator.IterationsPerCheckpoint)
	}
	return nil
}

// ValidatePlanMatch verifies that a freshly enumerated checkpoint
// sequence still matches the checkpoint's plan snapshot. A renamed or
// removed model file invalidates the saved batch mapping.
func ValidatePlanMatch(cp *models.RunCheckpoint, current []models.CheckpointRef) error {
	if len(current) != len(cp.Checkpoints) {
		return fmt.Errorf("checkpoint count changed since session started: was %d, now %d",
			len(cp.Checkpoints), len(current))
	}
	for i := range current {
		if current[i].Name != cp.Checkpoints[i].Name {
			return fmt.Errorf("checkpoint sequence changed at position %d: was %q, now %q",
				i, cp.Checkpoints[i].Name, current[i].Name)
		}
	}
	return nil
}

// GetPendingBatches returns the batch indices not yet completed, in
// increasing order, preserving the strict batch ordering guarantee
// across the resumed portion of the run.
func GetPendingBatches(cp *models.RunCheckpoint) []int {
	var pending []int
	for i := 0; i < cp.TotalBatches; i++ {
		if !cp.CompletedBatches[i] {
			pending = append(pending, i)
		}
	}
	sort.Ints(pending)
	return pending
}

// GetProgressPercentage returns completion progress in [0, 100].
func GetProgressPercentage(cp *models.RunCheckpoint) float64 {
	if cp.TotalBatches == 0 {
		return 0
	}
	return float64(len(cp.CompletedBatches)) / float64(cp.TotalBatches) * 100
}
