package walk

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWalkFindsRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "dir/b.txt"), "b")

	entries, err := Walk(root, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := pathsOf(entries)
	if len(paths) != 2 || paths[0] != "a.txt" || paths[1] != "dir/b.txt" {
		t.Fatalf("unexpected entries: %v", paths)
	}
}

func TestWalkExcludesHiddenByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden"), "x")
	writeFile(t, filepath.Join(root, "visible.txt"), "x")

	entries, err := Walk(root, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := pathsOf(entries)
	if len(paths) != 1 || paths[0] != "visible.txt" {
		t.Fatalf("expected only visible.txt, got %v", paths)
	}
}

func TestWalkIncludeHidden(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden"), "x")

	entries, err := Walk(root, Options{IncludeHidden: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected .hidden to be included, got %v", pathsOf(entries))
	}
}

func TestWalkExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "x")
	writeFile(t, filepath.Join(root, "skip.tmp"), "x")

	entries, err := Walk(root, Options{ExcludePatterns: []string{"*.tmp"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := pathsOf(entries)
	if len(paths) != 1 || paths[0] != "keep.txt" {
		t.Fatalf("expected only keep.txt, got %v", paths)
	}
}

func TestWalkMaxDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.txt"), "x")
	writeFile(t, filepath.Join(root, "a/nested.txt"), "x")
	writeFile(t, filepath.Join(root, "a/b/deep.txt"), "x")

	entries, err := Walk(root, Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := pathsOf(entries)
	if len(paths) != 1 || paths[0] != "top.txt" {
		t.Fatalf("expected only top.txt at depth 1, got %v", paths)
	}
}

func TestWalkSymlinkSkip(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	writeFile(t, target, "x")
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, err := Walk(root, Options{SymlinkStrategy: Skip})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := pathsOf(entries)
	if len(paths) != 1 || paths[0] != "real.txt" {
		t.Fatalf("expected symlink to be skipped, got %v", paths)
	}
}

func TestWalkSymlinkRecord(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	writeFile(t, target, "x")
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, err := Walk(root, Options{SymlinkStrategy: Record})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var foundLink bool
	for _, e := range entries {
		if e.Path == "link.txt" {
			foundLink = true
			if !e.IsLink {
				t.Errorf("expected link.txt to be recorded as a symlink")
			}
		}
	}
	if !foundLink {
		t.Fatalf("expected link.txt to be recorded, got %v", pathsOf(entries))
	}
}

func pathsOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
