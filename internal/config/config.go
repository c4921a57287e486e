package config

import (
	"fmt"
	"os"
)

// CheckpointSource selects where the iterator enumerates checkpoints from.
type CheckpointSource string

const (
	// SourceDir scans the local models directory.
	SourceDir CheckpointSource = "dir"
	// SourceHost queries the WebUI host's model list over its API.
	SourceHost CheckpointSource = "host"
)

// Config represents the complete application configuration
type Config struct {
	Iterator   IteratorConfig   `toml:"iterator"`
	Host       HostConfig       `toml:"host"`
	Generation GenerationConfig `toml:"generation"`
}

// IteratorConfig holds the checkpoint iteration settings supplied once
// per run and treated as read-only for the run's lifetime.
type IteratorConfig struct {
	Enabled                 bool             `toml:"enabled"`
	ModelsRoot              string           `toml:"models_root"`                // Base Stable-diffusion models directory (dir source)
	Subfolder               string           `toml:"subfolder"`                  // Relative subfolder to iterate over
	IterationsPerCheckpoint int              `toml:"iterations_per_checkpoint"`  // Batches to run per checkpoint before advancing
	Source                  CheckpointSource `toml:"source"`                     // "dir" (default) or "host"
}

// HostConfig describes the WebUI / Forge server driven over /sdapi/v1.
type HostConfig struct {
	BaseURL            string `toml:"base_url"`
	RequestsPerMinute  int    `toml:"requests_per_minute"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"` // Model reloads can take minutes on large checkpoints
	MaxRetries         int    `toml:"max_retries"`
	MaxBackoffSeconds  int    `toml:"max_backoff_seconds"`
}

// GenerationConfig holds the txt2img parameters and run-level settings.
type GenerationConfig struct {
	Prompt              string  `toml:"prompt"`
	NegativePrompt      string  `toml:"negative_prompt"`
	BatchCount          int     `toml:"batch_count"` // Host-requested base count, used when the iterator is inert
	BatchSize           int     `toml:"batch_size"`  // Images per batch
	Steps               int     `toml:"steps"`
	Width               int     `toml:"width"`
	Height              int     `toml:"height"`
	CfgScale            float64 `toml:"cfg_scale"`
	SamplerName         string  `toml:"sampler_name"`
	Seed                int64   `toml:"seed"`
	DryRun              bool    `toml:"dry_run"`               // Plan and swap only, skip txt2img
	EnableCheckpointing bool    `toml:"enable_checkpointing"`  // Persist run progress for resume
	CheckpointInterval  int     `toml:"checkpoint_interval"`   // Save progress every N completed batches
	ResumeFromSession   string  `toml:"resume_from_session"`   // Session directory to resume from
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	// WebUI --api-auth basic-auth credentials, if the host requires them.
	APIUser     string
	APIPassword string
}

const (
	// MaxIterationsPerCheckpoint mirrors the upper bound of the UI slider.
	MaxIterationsPerCheckpoint = 100
	// MaxBatchCount caps the base batch count to catch typos.
	MaxBatchCount = 10000
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Iterator.Enabled {
		if c.Iterator.IterationsPerCheckpoint < 1 {
			return fmt.Errorf("iterator.iterations_per_checkpoint must be at least 1 (got %d)", c.Iterator.IterationsPerCheckpoint)
		}
		if c.Iterator.IterationsPerCheckpoint > MaxIterationsPerCheckpoint {
			return fmt.Errorf("iterator.iterations_per_checkpoint must not exceed %d (got %d)", MaxIterationsPerCheckpoint, c.Iterator.IterationsPerCheckpoint)
		}
		switch c.Iterator.Source {
		case SourceDir:
			if c.Iterator.ModelsRoot == "" {
				return fmt.Errorf("iterator.models_root is required when source is %q", SourceDir)
			}
		case SourceHost:
			if c.Host.BaseURL == "" {
				return fmt.Errorf("host.base_url is required when source is %q", SourceHost)
			}
		default:
			return fmt.Errorf("iterator.source must be %q or %q (got %q)", SourceDir, SourceHost, c.Iterator.Source)
		}
	}

	if c.Generation.BatchCount < 1 {
		return fmt.Errorf("generation.batch_count must be at least 1 (got %d)", c.Generation.BatchCount)
	}
	if c.Generation.BatchCount > MaxBatchCount {
		return fmt.Errorf("generation.batch_count must not exceed %d (got %d)", MaxBatchCount, c.Generation.BatchCount)
	}
	if c.Generation.BatchSize < 1 {
		return fmt.Errorf("generation.batch_size must be at least 1 (got %d)", c.Generation.BatchSize)
	}
	if c.Generation.Steps < 1 {
		return fmt.Errorf("generation.steps must be at least 1 (got %d)", c.Generation.Steps)
	}
	if c.Generation.Width < 64 || c.Generation.Height < 64 {
		return fmt.Errorf("generation.width and height must be at least 64 (got %dx%d)", c.Generation.Width, c.Generation.Height)
	}
	if c.Generation.CfgScale < 1 || c.Generation.CfgScale > 30 {
		return fmt.Errorf("generation.cfg_scale must be between 1 and 30 (got %.2f)", c.Generation.CfgScale)
	}

	if !c.Generation.DryRun && c.Host.BaseURL == "" {
		return fmt.Errorf("host.base_url is required unless generation.dry_run is set")
	}
	if c.Host.BaseURL != "" {
		if c.Host.RequestsPerMinute < 1 {
			return fmt.Errorf("host.requests_per_minute must be at least 1 (got %d)", c.Host.RequestsPerMinute)
		}
		if c.Host.MaxRetries < 0 {
			return fmt.Errorf("host.max_retries must not be negative (got %d)", c.Host.MaxRetries)
		}
	}

	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() *Secrets {
	return &Secrets{
		APIUser:     os.Getenv("FORGE_API_USER"),
		APIPassword: os.Getenv("FORGE_API_PASSWORD"),
	}
}
