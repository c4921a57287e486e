package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
[iterator]
enabled = true
models_root = "/models/Stable-diffusion"
subfolder = "sd15"
iterations_per_checkpoint = 3

[host]
base_url = "http://127.0.0.1:7860"

[generation]
prompt = "a lighthouse at dusk"
batch_count = 2
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, secrets, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.Iterator.Enabled {
		t.Error("iterator.enabled not parsed")
	}
	if cfg.Iterator.Subfolder != "sd15" {
		t.Errorf("subfolder = %q, want sd15", cfg.Iterator.Subfolder)
	}
	if cfg.Iterator.IterationsPerCheckpoint != 3 {
		t.Errorf("iterations_per_checkpoint = %d, want 3", cfg.Iterator.IterationsPerCheckpoint)
	}
	if cfg.Iterator.Source != SourceDir {
		t.Errorf("source default = %q, want %q", cfg.Iterator.Source, SourceDir)
	}
	if secrets == nil {
		t.Fatal("secrets is nil")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
[host]
base_url = "http://127.0.0.1:7860"

[generation]
prompt = "x"
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Generation.BatchCount != 1 {
		t.Errorf("batch_count default = %d, want 1", cfg.Generation.BatchCount)
	}
	if cfg.Generation.Steps != 20 {
		t.Errorf("steps default = %d, want 20", cfg.Generation.Steps)
	}
	if cfg.Generation.Width != 512 || cfg.Generation.Height != 512 {
		t.Errorf("size default = %dx%d, want 512x512", cfg.Generation.Width, cfg.Generation.Height)
	}
	if cfg.Generation.Seed != -1 {
		t.Errorf("seed default = %d, want -1", cfg.Generation.Seed)
	}
	if cfg.Generation.CheckpointInterval != 1 {
		t.Errorf("checkpoint_interval default = %d, want 1", cfg.Generation.CheckpointInterval)
	}
	if cfg.Host.RequestsPerMinute != 60 {
		t.Errorf("requests_per_minute default = %d, want 60", cfg.Host.RequestsPerMinute)
	}
	if cfg.Host.HTTPTimeoutSeconds != 600 {
		t.Errorf("http_timeout_seconds default = %d, want 600", cfg.Host.HTTPTimeoutSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, "[iterator\nenabled = yes")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Iterator: IteratorConfig{
				Enabled:                 true,
				ModelsRoot:              "/models",
				Subfolder:               "sd15",
				IterationsPerCheckpoint: 2,
				Source:                  SourceDir,
			},
			Host: HostConfig{
				BaseURL:           "http://127.0.0.1:7860",
				RequestsPerMinute: 60,
			},
			Generation: GenerationConfig{
				Prompt:     "x",
				BatchCount: 1,
				BatchSize:  1,
				Steps:      20,
				Width:      512,
				Height:     512,
				CfgScale:   7,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero iterations", func(c *Config) { c.Iterator.IterationsPerCheckpoint = 0 }, "iterations_per_checkpoint"},
		{"iterations over cap", func(c *Config) { c.Iterator.IterationsPerCheckpoint = MaxIterationsPerCheckpoint + 1 }, "iterations_per_checkpoint"},
		{"dir source without root", func(c *Config) { c.Iterator.ModelsRoot = "" }, "models_root"},
		{"host source without url", func(c *Config) {
			c.Iterator.Source = SourceHost
			c.Host.BaseURL = ""
			c.Generation.DryRun = true
		}, "base_url"},
		{"unknown source", func(c *Config) { c.Iterator.Source = "ftp" }, "iterator.source"},
		{"zero batch count", func(c *Config) { c.Generation.BatchCount = 0 }, "batch_count"},
		{"batch count over cap", func(c *Config) { c.Generation.BatchCount = MaxBatchCount + 1 }, "batch_count"},
		{"tiny dimensions", func(c *Config) { c.Generation.Width = 32 }, "width"},
		{"cfg scale out of range", func(c *Config) { c.Generation.CfgScale = 31 }, "cfg_scale"},
		{"no host and not dry run", func(c *Config) { c.Host.BaseURL = "" }, "base_url"},
		{"no host in dry run ok", func(c *Config) {
			c.Host.BaseURL = ""
			c.Generation.DryRun = true
		}, ""},
		{"disabled iterator skips iterator checks", func(c *Config) {
			c.Iterator.Enabled = false
			c.Iterator.IterationsPerCheckpoint = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestHash(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	h1 := cfg.Hash()
	if len(h1) != 16 {
		t.Errorf("hash length = %d, want 16 hex chars", len(h1))
	}
	if cfg.Hash() != h1 {
		t.Error("hash is not stable")
	}

	cfg.Iterator.Subfolder = "sdxl"
	if cfg.Hash() == h1 {
		t.Error("hash unchanged after subfolder change")
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("FORGE_API_USER", "user")
	t.Setenv("FORGE_API_PASSWORD", "pass")

	s := LoadSecrets()
	if s.APIUser != "user" || s.APIPassword != "pass" {
		t.Errorf("secrets = %+v, want user/pass", s)
	}
}
