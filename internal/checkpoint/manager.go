package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kelsjon3/forge-iterator/internal/config"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

const CheckpointFilename = "checkpoint.json"

// Manager persists run progress with async write support, so an
// interrupted iteration session can be resumed without regenerating
// batches that already completed.
type Manager struct {
	sessionDir string
	checkpoint *models.RunCheckpoint
	mu         sync.RWMutex
	logger     *slog.Logger
	interval   int // Save every N batches
	counter    int // Completions since last save
	enabled    bool

	// Async write support
	writeChan   chan *models.RunCheckpoint
	writeWg     sync.WaitGroup
	stopWriter  chan struct{}
	writerError error
	errorMu     sync.Mutex
	writeMu     sync.Mutex // Protects concurrent disk writes
}

// NewManager creates a new checkpoint manager for a fresh run.
func NewManager(sessionDir string, cfg *config.Config, logger *slog.Logger) *Manager {
	m := &Manager{
		sessionDir: sessionDir,
		checkpoint: &models.RunCheckpoint{
			SessionID:        uuid.New().String(),
			CreatedAt:        time.Now(),
			Subfolder:        cfg.Iterator.Subfolder,
			PerCheckpoint:    cfg.Iterator.IterationsPerCheckpoint,
			CompletedBatches: make(map[int]bool),
			ConfigHash:       cfg.Hash(),
		},
		logger:     logger,
		interval:   cfg.Generation.CheckpointInterval,
		enabled:    cfg.Generation.EnableCheckpointing,
		writeChan:  make(chan *models.RunCheckpoint, 10), // Buffer up to 10 pending writes
		stopWriter: make(chan struct{}),
	}

	if m.enabled {
		m.startAsyncWriter()
	}

	return m
}

// NewManagerFromCheckpoint creates a manager from an existing checkpoint
func NewManagerFromCheckpoint(sessionDir string, cp *models.RunCheckpoint, cfg *config.Config, logger *slog.Logger) *Manager {
	m := &Manager{
		sessionDir: sessionDir,
		checkpoint: cp,
		logger:     logger,
		interval:   cfg.Generation.CheckpointInterval,
		enabled:    cfg.Generation.EnableCheckpointing,
		writeChan:  make(chan *models.RunCheckpoint, 10),
		stopWriter: make(chan struct{}),
	}

	if m.enabled {
		m.startAsyncWriter()
	}

	return m
}

// startAsyncWriter starts the background writer goroutine
func (m *Manager) startAsyncWriter() {
	m.writeWg.Add(1)
	go func() {
		defer m.writeWg.Done()
		for {
			select {
			case cp := <-m.writeChan:
				if err := m.writeCheckpointToDisk(cp); err != nil {
					m.errorMu.Lock()
					m.writerError = err
					m.errorMu.Unlock()
					m.logger.Error("Failed to write checkpoint", "error", err)
				}
			case <-m.stopWriter:
				// Drain remaining writes before stopping
				for len(m.writeChan) > 0 {
					cp := <-m.writeChan
					if err := m.writeCheckpointToDisk(cp); err != nil {
						m.logger.Error("Failed to write checkpoint during shutdown", "error", err)
					}
				}
				return
			}
		}
	}()
}

// writeCheckpointToDisk performs the actual disk write (called by async writer)
func (m *Manager) writeCheckpointToDisk(cp *models.RunCheckpoint) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Atomic write: write to temp file, then rename
	checkpointPath := filepath.Join(m.sessionDir, CheckpointFilename)
	tempPath := checkpointPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}

	if err := os.Rename(tempPath, checkpointPath); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	m.logger.Debug("Checkpoint saved",
		"path", checkpointPath,
		"completed", len(cp.CompletedBatches),
		"total", cp.TotalBatches)
	return nil
}

// Save queues checkpoint for async write
func (m *Manager) Save() error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	m.checkpoint.LastSavedAt = time.Now()
	cpCopy := m.copyCheckpoint()
	m.mu.Unlock()

	// Queue for async write (non-blocking if buffer has space)
	select {
	case m.writeChan <- cpCopy:
		return nil
	default:
		m.logger.Warn("Checkpoint write buffer full, writing synchronously")
		return m.writeCheckpointToDisk(cpCopy)
	}
}

// SaveSync performs synchronous checkpoint write
func (m *Manager) SaveSync() error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	m.checkpoint.LastSavedAt = time.Now()
	cpCopy := m.copyCheckpoint()
	m.mu.Unlock()

	return m.writeCheckpointToDisk(cpCopy)
}

// copyCheckpoint creates a deep copy of the checkpoint
func (m *Manager) copyCheckpoint() *models.RunCheckpoint {
	cp := &models.RunCheckpoint{
		SessionID:        m.checkpoint.SessionID,
		CreatedAt:        m.checkpoint.CreatedAt,
		LastSavedAt:      m.checkpoint.LastSavedAt,
		Subfolder:        m.checkpoint.Subfolder,
		Checkpoints:      append([]models.CheckpointRef{}, m.checkpoint.Checkpoints...),
		PerCheckpoint:    m.checkpoint.PerCheckpoint,
		TotalBatches:     m.checkpoint.TotalBatches,
		CompletedBatches: make(map[int]bool, len(m.checkpoint.CompletedBatches)),
		Complete:         m.checkpoint.Complete,
		Stats:            m.checkpoint.Stats,
		ConfigHash:       m.checkpoint.ConfigHash,
	}
	for k, v := range m.checkpoint.CompletedBatches {
		cp.CompletedBatches[k] = v
	}
	return cp
}

// Load reads a checkpoint from a session directory
func Load(sessionDir string, logger *slog.Logger) (*models.RunCheckpoint, error) {
	checkpointPath := filepath.Join(sessionDir, CheckpointFilename)

	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.RunCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	logger.Info("Checkpoint loaded",
		"session_id", cp.SessionID,
		"completed_batches", len(cp.CompletedBatches),
		"total_batches", cp.TotalBatches)

	return &cp, nil
}

// SetPlan records the built batch plan snapshot. Called once after
// OnRunStart so a resume can verify the plan has not changed.
func (m *Manager) SetPlan(checkpoints []models.CheckpointRef, totalBatches int) error {
	m.mu.Lock()
	m.checkpoint.Checkpoints = append([]models.CheckpointRef{}, checkpoints...)
	m.checkpoint.TotalBatches = totalBatches
	m.mu.Unlock()

	return m.SaveSync() // Plan snapshot is a phase transition, save sync
}

// MarkBatchComplete marks a single batch as done (with interval-based saving)
func (m *Manager) MarkBatchComplete(batchIndex int, stats *models.RunStats) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	m.checkpoint.CompletedBatches[batchIndex] = true
	m.checkpoint.Stats = *stats
	m.counter++
	shouldSave := m.counter >= m.interval
	if shouldSave {
		m.counter = 0
	}
	m.mu.Unlock()

	if shouldSave {
		return m.Save() // Async for batch completions
	}
	return nil
}

// MarkComplete marks the entire run as complete
func (m *Manager) MarkComplete(stats *models.RunStats) error {
	m.mu.Lock()
	m.checkpoint.Complete = true
	m.checkpoint.Stats = *stats
	m.mu.Unlock()

	return m.SaveSync() // Sync for the final checkpoint
}

// GetCheckpoint returns a read-only copy of the current checkpoint
func (m *Manager) GetCheckpoint() *models.RunCheckpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyCheckpoint()
}

// Close stops the async writer and waits for pending writes
func (m *Manager) Close() error {
	if !m.enabled {
		return nil
	}

	close(m.stopWriter)
	m.writeWg.Wait()

	m.errorMu.Lock()
	defer m.errorMu.Unlock()
	return m.writerError
}
