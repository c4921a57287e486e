package config

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, LoadSecrets(), nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Iterator.Source == "" {
		cfg.Iterator.Source = SourceDir
	}
	if cfg.Iterator.IterationsPerCheckpoint == 0 {
		cfg.Iterator.IterationsPerCheckpoint = 1
	}

	if cfg.Generation.BatchCount == 0 {
		cfg.Generation.BatchCount = 1
	}
	if cfg.Generation.BatchSize == 0 {
		cfg.Generation.BatchSize = 1
	}
	if cfg.Generation.Steps == 0 {
		cfg.Generation.Steps = 20
	}
	if cfg.Generation.Width == 0 {
		cfg.Generation.Width = 512
	}
	if cfg.Generation.Height == 0 {
		cfg.Generation.Height = 512
	}
	if cfg.Generation.CfgScale == 0 {
		cfg.Generation.CfgScale = 7.0
	}
	if cfg.Generation.Seed == 0 {
		cfg.Generation.Seed = -1 // -1 means random on the host side
	}
	if cfg.Generation.CheckpointInterval == 0 {
		cfg.Generation.CheckpointInterval = 1
	}

	if cfg.Host.RequestsPerMinute == 0 {
		cfg.Host.RequestsPerMinute = 60
	}
	if cfg.Host.HTTPTimeoutSeconds == 0 {
		cfg.Host.HTTPTimeoutSeconds = 600
	}
	if cfg.Host.MaxRetries == 0 {
		cfg.Host.MaxRetries = 3
	}
	if cfg.Host.MaxBackoffSeconds == 0 {
		cfg.Host.MaxBackoffSeconds = 120
	}
}

// Hash returns a short digest of the config fields that shape a run's
// batch plan, used to detect mismatches when resuming a session.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%d:%d:%s",
		c.Iterator.Subfolder,
		c.Iterator.IterationsPerCheckpoint,
		c.Generation.BatchCount,
		c.Generation.Prompt)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}
