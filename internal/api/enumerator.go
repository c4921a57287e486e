package api

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kelsjon3/forge-iterator/internal/scan"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// RemoteEnumerator enumerates checkpoints from the host's own model
// list instead of the local filesystem, for setups where the models
// directory is not mounted where this tool runs.
type RemoteEnumerator struct {
	client  *Client
	refresh bool
}

// NewRemoteEnumerator creates an enumerator over the host model list.
// With refresh set, the host rescans its models directory first.
func NewRemoteEnumerator(client *Client, refresh bool) *RemoteEnumerator {
	return &RemoteEnumerator{client: client, refresh: refresh}
}

// Enumerate returns the host's checkpoints whose relative name sits
// directly or nested under subfolder, sorted by name. An unknown
// subfolder yields scan.ErrSubfolderNotFound so a typo surfaces before
// the run starts instead of silently producing a pass-through plan.
func (e *RemoteEnumerator) Enumerate(ctx context.Context, subfolder string) ([]models.CheckpointRef, error) {
	if e.refresh {
		if err := e.client.RefreshCheckpoints(ctx); err != nil {
			return nil, fmt.Errorf("refresh checkpoints: %w", err)
		}
	}

	list, err := e.client.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("list host models: %w", err)
	}

	prefix := ""
	if subfolder != "" {
		prefix = strings.TrimSuffix(subfolder, "/") + "/"
	}

	var refs []models.CheckpointRef
	subfolderSeen := subfolder == ""
	for _, m := range list {
		ref := RefFromModel(m)
		if prefix == "" {
			refs = append(refs, ref)
			continue
		}
		if strings.HasPrefix(ref.Name, prefix) {
			subfolderSeen = true
			refs = append(refs, ref)
		}
	}

	if !subfolderSeen {
		return nil, fmt.Errorf("%w: %s", scan.ErrSubfolderNotFound, subfolder)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

var _ scan.Enumerator = (*RemoteEnumerator)(nil)
