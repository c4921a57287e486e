package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
}

func TestNewDirEnumerator(t *testing.T) {
	root := t.TempDir()
	if _, err := NewDirEnumerator(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewDirEnumerator(filepath.Join(root, "missing")); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(root, "file.txt")
	writeFiles(t, root, "file.txt")
	if _, err := NewDirEnumerator(file); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"sd15/zeta.safetensors",
		"sd15/alpha.ckpt",
		"sd15/notes.txt",
		"sd15/nested/deep.safetensors",
		"sdxl/model.safetensors",
		"root.pt",
	)

	enum, err := NewDirEnumerator(root)
	if err != nil {
		t.Fatalf("NewDirEnumerator failed: %v", err)
	}
	ctx := context.Background()

	t.Run("sorted and filtered", func(t *testing.T) {
		refs, err := enum.Enumerate(ctx, "sd15")
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		want := []string{"sd15/alpha.ckpt", "sd15/zeta.safetensors"}
		if len(refs) != len(want) {
			t.Fatalf("got %d refs, want %d", len(refs), len(want))
		}
		for i, w := range want {
			if refs[i].Name != w {
				t.Errorf("refs[%d].Name = %q, want %q", i, refs[i].Name, w)
			}
		}
	})

	t.Run("root subfolder", func(t *testing.T) {
		refs, err := enum.Enumerate(ctx, "")
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		if len(refs) != 1 || refs[0].Name != "root.pt" {
			t.Fatalf("got %v, want [root.pt]", refs)
		}
	})

	t.Run("missing subfolder", func(t *testing.T) {
		_, err := enum.Enumerate(ctx, "missing")
		if !errors.Is(err, ErrSubfolderNotFound) {
			t.Errorf("error = %v, want ErrSubfolderNotFound", err)
		}
	})

	t.Run("empty subfolder yields empty slice", func(t *testing.T) {
		if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		refs, err := enum.Enumerate(ctx, "empty")
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		if len(refs) != 0 {
			t.Errorf("got %d refs, want 0", len(refs))
		}
	})

	t.Run("traversal rejected", func(t *testing.T) {
		for _, sub := range []string{"../outside", "a/../../b", "/abs"} {
			if _, err := enum.Enumerate(ctx, sub); err == nil {
				t.Errorf("Enumerate(%q) succeeded, want error", sub)
			}
		}
	})
}

func TestIsCheckpointFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"model.safetensors", true},
		{"model.ckpt", true},
		{"model.pt", true},
		{"model.pth", true},
		{"MODEL.SAFETENSORS", true},
		{"model.txt", false},
		{"model.yaml", false},
		{"model", false},
	}
	for _, tt := range tests {
		if got := IsCheckpointFile(tt.name); got != tt.want {
			t.Errorf("IsCheckpointFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSubfolders(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"sd15/a.safetensors",
		"sd15/nested/b.safetensors",
		"sdxl/c.ckpt",
		"empty-docs/readme.md",
		"top.pt",
	)

	enum, err := NewDirEnumerator(root)
	if err != nil {
		t.Fatalf("NewDirEnumerator failed: %v", err)
	}

	folders, err := enum.Subfolders()
	if err != nil {
		t.Fatalf("Subfolders failed: %v", err)
	}
	want := []string{"", "sd15", "sd15/nested", "sdxl"}
	if len(folders) != len(want) {
		t.Fatalf("got %v, want %v", folders, want)
	}
	for i := range want {
		if folders[i] != want[i] {
			t.Errorf("folders[%d] = %q, want %q", i, folders[i], want[i])
		}
	}

	counts, err := enum.CountBySubfolder()
	if err != nil {
		t.Fatalf("CountBySubfolder failed: %v", err)
	}
	if counts["sd15"] != 1 || counts["sd15/nested"] != 1 || counts["sdxl"] != 1 || counts[""] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name    string
		wantSub string
		wantFit string
	}{
		{"sd15/model.safetensors", "sd15", "model.safetensors"},
		{"a/b/model.ckpt", "a/b", "model.ckpt"},
		{"model.ckpt", "", "model.ckpt"},
		{`sd15\model.safetensors`, "sd15", "model.safetensors"},
	}
	for _, tt := range tests {
		sub, base := SplitName(tt.name)
		if sub != tt.wantSub || base != tt.wantFit {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", tt.name, sub, base, tt.wantSub, tt.wantFit)
		}
	}
}
