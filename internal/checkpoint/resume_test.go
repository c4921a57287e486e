package checkpoint

import (
	"testing"

	"github.com/kelsjon3/forge-iterator/pkg/models"
)

func validCheckpoint(t *testing.T) *models.RunCheckpoint {
	t.Helper()
	cfg := testConfig()
	return &models.RunCheckpoint{
		SessionID:        "test-session",
		Subfolder:        cfg.Iterator.Subfolder,
		PerCheckpoint:    cfg.Iterator.IterationsPerCheckpoint,
		Checkpoints:      testRefs(),
		TotalBatches:     4,
		CompletedBatches: map[int]bool{0: true, 1: true},
		ConfigHash:       cfg.Hash(),
	}
}

func TestValidateCheckpoint(t *testing.T) {
	cfg := testConfig()

	t.Run("valid", func(t *testing.T) {
		if err := ValidateCheckpoint(validCheckpoint(t), cfg); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("already complete", func(t *testing.T) {
		cp := validCheckpoint(t)
		cp.Complete = true
		if err := ValidateCheckpoint(cp, cfg); err == nil {
			t.Error("expected error for completed checkpoint")
		}
	})

	t.Run("config hash mismatch", func(t *testing.T) {
		cp := validCheckpoint(t)
		cp.ConfigHash = "deadbeefdeadbeef"
		if err := ValidateCheckpoint(cp, cfg); err == nil {
			t.Error("expected error for config mismatch")
		}
	})

	t.Run("subfolder mismatch", func(t *testing.T) {
		cp := validCheckpoint(t)
		cp.Subfolder = "sdxl"
		cp.ConfigHash = cfg.Hash() // Isolate the subfolder check
		if err := ValidateCheckpoint(cp, cfg); err == nil {
			t.Error("expected error for subfolder mismatch")
		}
	})

	t.Run("multiplier mismatch", func(t *testing.T) {
		cp := validCheckpoint(t)
		cp.PerCheckpoint = 9
		if err := ValidateCheckpoint(cp, cfg); err == nil {
			t.Error("expected error for multiplier mismatch")
		}
	})
}

func TestValidatePlanMatch(t *testing.T) {
	cp := validCheckpoint(t)

	t.Run("matching", func(t *testing.T) {
		if err := ValidatePlanMatch(cp, testRefs()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("count changed", func(t *testing.T) {
		if err := ValidatePlanMatch(cp, testRefs()[:1]); err == nil {
			t.Error("expected error for removed checkpoint")
		}
	})

	t.Run("renamed checkpoint", func(t *testing.T) {
		refs := testRefs()
		refs[1].Name = "sd15/renamed.safetensors"
		if err := ValidatePlanMatch(cp, refs); err == nil {
			t.Error("expected error for renamed checkpoint")
		}
	})
}

func TestGetPendingBatches(t *testing.T) {
	cp := validCheckpoint(t)

	pending := GetPendingBatches(cp)
	want := []int{2, 3}
	if len(pending) != len(want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
	for i := range want {
		if pending[i] != want[i] {
			t.Errorf("pending[%d] = %d, want %d", i, pending[i], want[i])
		}
	}

	cp.CompletedBatches = map[int]bool{}
	if got := GetPendingBatches(cp); len(got) != cp.TotalBatches {
		t.Errorf("pending with nothing done = %v", got)
	}

	cp.CompletedBatches = map[int]bool{0: true, 1: true, 2: true, 3: true}
	if got := GetPendingBatches(cp); len(got) != 0 {
		t.Errorf("pending with everything done = %v", got)
	}
}

func TestGetProgressPercentage(t *testing.T) {
	cp := validCheckpoint(t)
	if got := GetProgressPercentage(cp); got != 50 {
		t.Errorf("progress = %.1f, want 50", got)
	}

	cp.TotalBatches = 0
	if got := GetProgressPercentage(cp); got != 0 {
		t.Errorf("progress with zero total = %.1f, want 0", got)
	}
}
