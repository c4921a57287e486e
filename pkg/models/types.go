package models

import "time"

// CheckpointRef identifies a single model checkpoint under the models root.
// Immutable once enumerated.
type CheckpointRef struct {
	// Name is the slash-separated path relative to the models root,
	// e.g. "SubfolderA/my_model.safetensors". This is the stable identity
	// used for plan ordering and metadata.
	Name string `json:"name"`
	// Title is the display form the host uses in its own model list,
	// typically "name" or "name [shorthash]". Empty if unknown.
	Title string `json:"title,omitempty"`
	// Path is the absolute filesystem path, when enumerated from disk.
	Path string `json:"path,omitempty"`
}

// IsZero reports whether the ref identifies no checkpoint.
func (r CheckpointRef) IsZero() bool {
	return r.Name == ""
}

// OverrideTitle returns the value written into metadata overrides:
// the host-facing title when known, otherwise the relative name.
func (r CheckpointRef) OverrideTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// BatchRecord is the per-batch metadata sidecar persisted alongside each
// generated artifact.
type BatchRecord struct {
	BatchIndex int               `json:"batch_index"`
	Checkpoint string            `json:"checkpoint,omitempty"`
	DidSwap    bool              `json:"did_swap"`
	Overrides  map[string]string `json:"overrides,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration_ns"`
}

// RunStats tracks statistics for one generation run.
type RunStats struct {
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	TotalBatches     int           `json:"total_batches"`
	CompletedBatches int           `json:"completed_batches"`
	SwapCount        int           `json:"swap_count"`
	FailureCount     int           `json:"failure_count"`
	TotalDuration    time.Duration `json:"total_duration"`
}
