package writer

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kelsjon3/forge-iterator/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chdir changes into dir for the duration of the test, matching the
// behavior of t.Chdir from newer Go releases.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestNewSessionManager(t *testing.T) {
	chdir(t, t.TempDir())

	sm, err := NewSessionManager(testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	if _, err := os.Stat(sm.GetSessionDir()); err != nil {
		t.Errorf("session directory not created: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(sm.GetSessionDir()), "session_") {
		t.Errorf("unexpected session dir name: %s", sm.GetSessionDir())
	}
}

func TestNewSessionManagerResume(t *testing.T) {
	chdir(t, t.TempDir())

	if err := os.MkdirAll(filepath.Join("output", "session_existing"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	sm, err := NewSessionManager(testLogger(), "session_existing")
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	if sm.GetSessionDir() != filepath.Join("output", "session_existing") {
		t.Errorf("session dir = %s", sm.GetSessionDir())
	}

	if _, err := NewSessionManager(testLogger(), "session_missing"); err == nil {
		t.Error("expected error for missing resume session")
	}
}

func TestValidateSessionPath(t *testing.T) {
	tests := []struct {
		session string
		wantErr bool
	}{
		{"session_2026-01-01T00-00-00", false},
		{"", true},
		{"..", true},
		{".", true},
		{"../escape", true},
		{"a/b", true},
		{`a\b`, true},
		{"/abs", true},
	}
	for _, tt := range tests {
		err := ValidateSessionPath(tt.session)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSessionPath(%q) error = %v, wantErr %v", tt.session, err, tt.wantErr)
		}
	}
}

func TestBackupConfig(t *testing.T) {
	chdir(t, t.TempDir())

	cfgPath := "config.toml"
	if err := os.WriteFile(cfgPath, []byte("[iterator]\nenabled = true\n"), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	sm, err := NewSessionManager(testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	if err := sm.BackupConfig(cfgPath); err != nil {
		t.Fatalf("BackupConfig failed: %v", err)
	}

	data, err := os.ReadFile(sm.GetConfigBackupPath())
	if err != nil {
		t.Fatalf("read backup failed: %v", err)
	}
	if !strings.Contains(string(data), "enabled = true") {
		t.Error("backup does not match source config")
	}
}

func TestWriteBatchRecord(t *testing.T) {
	chdir(t, t.TempDir())

	sm, err := NewSessionManager(testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	record := models.BatchRecord{
		BatchIndex: 3,
		Checkpoint: "sd15/alpha.safetensors",
		DidSwap:    true,
		Overrides:  map[string]string{"sd_model_checkpoint": "sd15/alpha.safetensors"},
		StartedAt:  time.Now(),
		Duration:   2 * time.Second,
	}
	if err := sm.WriteBatchRecord(record); err != nil {
		t.Fatalf("WriteBatchRecord failed: %v", err)
	}

	data, err := os.ReadFile(sm.GetBatchRecordPath(3))
	if err != nil {
		t.Fatalf("read record failed: %v", err)
	}
	var got models.BatchRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.BatchIndex != 3 || got.Checkpoint != "sd15/alpha.safetensors" || !got.DidSwap {
		t.Errorf("round-tripped record = %+v", got)
	}
}

func TestWriteManifest(t *testing.T) {
	chdir(t, t.TempDir())

	sm, err := NewSessionManager(testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	manifest := &RunManifest{
		SessionID:   "abc",
		Subfolder:   "sd15",
		Checkpoints: []string{"sd15/a.safetensors"},
		Aborted:     true,
		AbortReason: "load failed",
		FinishedAt:  time.Now(),
	}
	if err := sm.WriteManifest(manifest); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	data, err := os.ReadFile(sm.GetManifestPath())
	if err != nil {
		t.Fatalf("read manifest failed: %v", err)
	}
	var got RunManifest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.SessionID != "abc" || !got.Aborted || got.AbortReason != "load failed" {
		t.Errorf("round-tripped manifest = %+v", got)
	}

	if _, err := os.Stat(sm.GetManifestPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp manifest file left behind")
	}
}

func TestWriteImage(t *testing.T) {
	chdir(t, t.TempDir())

	sm, err := NewSessionManager(testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	// "aGVsbG8=" is base64 for "hello"
	path, err := sm.WriteImage(0, 1, "aGVsbG8=")
	if err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("image content = %q", data)
	}

	if _, err := sm.WriteImage(0, 2, "not-base64!!"); err == nil {
		t.Error("expected decode error for invalid base64")
	}
}
