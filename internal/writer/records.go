package writer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// RunManifest is the run-level summary written once at the end of a
// session (and refreshed on abort), so a session directory is
// self-describing.
type RunManifest struct {
	SessionID    string            `json:"session_id"`
	Subfolder    string            `json:"subfolder,omitempty"`
	Checkpoints  []string          `json:"checkpoints,omitempty"`
	Stats        models.RunStats   `json:"stats"`
	Aborted      bool              `json:"aborted,omitempty"`
	AbortReason  string            `json:"abort_reason,omitempty"`
	FinishedAt   time.Time         `json:"finished_at"`
	HostSettings map[string]string `json:"host_settings,omitempty"`
}

// WriteBatchRecord persists the metadata sidecar for one batch. The
// sidecar is what downstream tooling reads to learn which checkpoint
// actually produced the batch, regardless of the host's own bookkeeping.
func (sm *SessionManager) WriteBatchRecord(record models.BatchRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch record: %w", err)
	}

	path := sm.GetBatchRecordPath(record.BatchIndex)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write batch record: %w", err)
	}

	sm.logger.Debug("Wrote batch record",
		"batch_index", record.BatchIndex,
		"checkpoint", record.Checkpoint)
	return nil
}

// WriteManifest persists the run manifest atomically (tmp + rename).
func (sm *SessionManager) WriteManifest(manifest *RunManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run manifest: %w", err)
	}

	path := sm.GetManifestPath()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// WriteImage decodes one base64 image from the host response and saves
// it next to the batch's metadata sidecar.
func (sm *SessionManager) WriteImage(batchIndex, imageIndex int, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	path := sm.GetImagePath(batchIndex, imageIndex)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}
