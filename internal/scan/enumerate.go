package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kelsjon3/forge-iterator/pkg/models"
)

// ErrSubfolderNotFound is returned when the selected subfolder does not
// exist under the models root.
var ErrSubfolderNotFound = errors.New("checkpoint subfolder not found")

// checkpointExtensions are the file extensions recognized as loadable
// model checkpoints, matching what the WebUI host itself picks up.
var checkpointExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
	".pth":         true,
}

// Enumerator produces the ordered checkpoint sequence for a subfolder.
// Implementations must be deterministic: the same folder contents yield
// the same sequence in the same order.
type Enumerator interface {
	Enumerate(ctx context.Context, subfolder string) ([]models.CheckpointRef, error)
}

// DirEnumerator enumerates checkpoints by scanning a models directory on
// the local filesystem.
type DirEnumerator struct {
	root string
}

// NewDirEnumerator creates an enumerator rooted at the given models
// directory. The root must exist.
func NewDirEnumerator(root string) (*DirEnumerator, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("models root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("models root is not a directory: %s", root)
	}
	return &DirEnumerator{root: root}, nil
}

// Enumerate returns the checkpoints found directly under root/subfolder,
// sorted lexicographically by relative name. A subfolder with no
// recognized checkpoint files yields an empty slice, not an error.
func (e *DirEnumerator) Enumerate(_ context.Context, subfolder string) ([]models.CheckpointRef, error) {
	if err := validateSubfolder(subfolder); err != nil {
		return nil, err
	}

	dir := filepath.Join(e.root, filepath.FromSlash(subfolder))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubfolderNotFound, subfolder)
		}
		return nil, fmt.Errorf("failed to read subfolder %s: %w", subfolder, err)
	}

	var refs []models.CheckpointRef
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !IsCheckpointFile(entry.Name()) {
			continue
		}
		name := entry.Name()
		if subfolder != "" {
			name = subfolder + "/" + name
		}
		refs = append(refs, models.CheckpointRef{
			Name: name,
			Path: filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// IsCheckpointFile reports whether a filename has a recognized
// checkpoint extension.
func IsCheckpointFile(name string) bool {
	return checkpointExtensions[strings.ToLower(filepath.Ext(name))]
}

// validateSubfolder rejects absolute paths and path traversal so the
// scan can never escape the models root.
func validateSubfolder(subfolder string) error {
	if subfolder == "" {
		return nil
	}
	if filepath.IsAbs(subfolder) {
		return fmt.Errorf("subfolder must be relative: %s", subfolder)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(subfolder)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("subfolder escapes models root: %s", subfolder)
	}
	return nil
}
