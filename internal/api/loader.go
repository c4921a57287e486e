package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// Loader adapts the host API to the iterator's checkpoint loading
// capability: posting sd_model_checkpoint swaps weights, reading the
// options reports what is in memory.
type Loader struct {
	client *Client
	logger *slog.Logger
}

// NewLoader creates a checkpoint loader backed by the host API.
func NewLoader(client *Client, logger *slog.Logger) *Loader {
	return &Loader{client: client, logger: logger}
}

// Load makes ref the active model on the host, blocking until the host
// finishes the reload.
func (l *Loader) Load(ctx context.Context, ref models.CheckpointRef) error {
	title := ref.OverrideTitle()
	if err := l.client.SetCheckpoint(ctx, title); err != nil {
		return fmt.Errorf("host reload of %q: %w", title, err)
	}
	return nil
}

// CurrentlyLoaded resolves the host's sd_model_checkpoint setting back
// to a CheckpointRef via the model list. Returns ok=false when the host
// reports no loaded model or the setting matches nothing in the list.
func (l *Loader) CurrentlyLoaded(ctx context.Context) (models.CheckpointRef, bool, error) {
	opts, err := l.client.Options(ctx)
	if err != nil {
		return models.CheckpointRef{}, false, err
	}
	if opts.SDModelCheckpoint == "" {
		return models.CheckpointRef{}, false, nil
	}

	list, err := l.client.Models(ctx)
	if err != nil {
		return models.CheckpointRef{}, false, err
	}

	for _, m := range list {
		if m.Title == opts.SDModelCheckpoint || StripHash(m.Title) == StripHash(opts.SDModelCheckpoint) {
			return RefFromModel(m), true, nil
		}
	}

	l.logger.Warn("Loaded checkpoint not present in host model list",
		"sd_model_checkpoint", opts.SDModelCheckpoint)
	return models.CheckpointRef{}, false, nil
}

// RefFromModel converts a host model-list entry to a CheckpointRef. The
// relative name is the title with its trailing " [hash]" removed, which
// matches the path-relative naming the host uses.
func RefFromModel(m SDModel) models.CheckpointRef {
	return models.CheckpointRef{
		Name:  strings.ReplaceAll(StripHash(m.Title), "\\", "/"),
		Title: m.Title,
		Path:  m.Filename,
	}
}

// StripHash removes the trailing " [shorthash]" suffix from a model
// title, if present.
func StripHash(title string) string {
	if !strings.HasSuffix(title, "]") {
		return title
	}
	idx := strings.LastIndex(title, " [")
	if idx < 0 {
		return title
	}
	return title[:idx]
}
