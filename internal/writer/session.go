package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionManager manages session directories and files
type SessionManager struct {
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a new session manager. With a non-empty
// resumeFromSession it reuses that existing session directory instead
// of creating a new one.
func NewSessionManager(logger *slog.Logger, resumeFromSession string) (*SessionManager, error) {
	outputDir := "output"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var sessionDir string
	if resumeFromSession != "" {
		if err := ValidateSessionPath(resumeFromSession); err != nil {
			return nil, fmt.Errorf("invalid session directory: %w", err)
		}
		sessionDir = filepath.Join(outputDir, resumeFromSession)
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory not found: %s", sessionDir)
		}
		logger.Info("Resuming from existing session", "path", sessionDir)
	} else {
		timestamp := time.Now().Format("2006-01-02T15-04-05")
		sessionDir = filepath.Join(outputDir, "session_"+timestamp)

		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}

		logger.Info("Created new session directory", "path", sessionDir)
	}

	return &SessionManager{
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, "session.log")
}

// GetManifestPath returns the full path to the run manifest
func (sm *SessionManager) GetManifestPath() string {
	return filepath.Join(sm.sessionDir, "run.json")
}

// GetBatchRecordPath returns the metadata sidecar path for one batch
func (sm *SessionManager) GetBatchRecordPath(batchIndex int) string {
	return filepath.Join(sm.sessionDir, fmt.Sprintf("batch_%04d.json", batchIndex))
}

// GetImagePath returns where a generated image for a batch is saved
func (sm *SessionManager) GetImagePath(batchIndex, imageIndex int) string {
	return filepath.Join(sm.sessionDir, fmt.Sprintf("batch_%04d_%02d.png", batchIndex, imageIndex))
}

// GetConfigBackupPath returns the full path to the config backup
func (sm *SessionManager) GetConfigBackupPath() string {
	return filepath.Join(sm.sessionDir, "config.toml.bak")
}

// BackupConfig copies the config file to the session directory
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}

// ValidateSessionPath rejects session names that could escape the
// output directory (path traversal, absolute paths, separators).
func ValidateSessionPath(session string) error {
	if session == "" {
		return fmt.Errorf("session name is empty")
	}
	if filepath.IsAbs(session) {
		return fmt.Errorf("session name must be relative: %s", session)
	}
	if strings.ContainsAny(session, `/\`) {
		return fmt.Errorf("session name must not contain path separators: %s", session)
	}
	if session == "." || session == ".." {
		return fmt.Errorf("invalid session name: %s", session)
	}
	return nil
}
