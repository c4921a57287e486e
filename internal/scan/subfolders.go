package scan

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Subfolders walks the models root and returns the relative subfolders
// that contain at least one recognized checkpoint file, sorted. The
// root itself is reported as "" when it holds checkpoints directly.
func (e *DirEnumerator) Subfolders() ([]string, error) {
	seen := make(map[string]bool)

	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsCheckpointFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(e.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		seen[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan models root: %w", err)
	}

	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}

// CountBySubfolder returns, for each subfolder, the number of
// checkpoints directly inside it. Used by the CLI listing.
func (e *DirEnumerator) CountBySubfolder() (map[string]int, error) {
	folders, err := e.Subfolders()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(folders))
	for _, f := range folders {
		refs, err := e.Enumerate(context.Background(), f)
		if err != nil {
			return nil, err
		}
		counts[f] = len(refs)
	}
	return counts, nil
}

// SplitName splits a checkpoint's relative name into its subfolder and
// base filename. A name with no directory component yields subfolder "".
func SplitName(name string) (subfolder, base string) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	idx := strings.LastIndex(normalized, "/")
	if idx < 0 {
		return "", normalized
	}
	return normalized[:idx], normalized[idx+1:]
}
