package models

import "time"

// RunCheckpoint represents the saved progress of an iteration run,
// used to resume an interrupted session.
type RunCheckpoint struct {
	// Session identification
	SessionID   string    `json:"session_id"`    // UUID for this session
	CreatedAt   time.Time `json:"created_at"`    // When the run started
	LastSavedAt time.Time `json:"last_saved_at"` // Last checkpoint time

	// Plan snapshot: the enumerated checkpoints and multiplier the run
	// was started with. A resume refuses to proceed if re-enumeration
	// would produce a different plan.
	Subfolder     string          `json:"subfolder"`
	Checkpoints   []CheckpointRef `json:"checkpoints"`
	PerCheckpoint int             `json:"per_checkpoint"`
	TotalBatches  int             `json:"total_batches"`

	// Progress tracking
	CompletedBatches map[int]bool `json:"completed_batches"` // batch index -> true
	Complete         bool         `json:"complete"`

	// Statistics (cumulative)
	Stats RunStats `json:"stats"`

	// Configuration snapshot (for mismatch detection)
	ConfigHash string `json:"config_hash"`
}
