package merkle

import (
	"testing"

	"dedupvault/internal/hasher"
)

func hashOf(s string) hasher.Digest {
	return hasher.HashBuffer([]byte(s))
}

func TestBuildDeterministic(t *testing.T) {
	files := []File{
		{Path: "a.txt", Size: 3, ContentHash: hashOf("a")},
		{Path: "dir/b.txt", Size: 3, ContentHash: hashOf("b")},
	}
	r1 := Build(files)
	r2 := Build(files)
	if r1.Hash != r2.Hash {
		t.Errorf("expected identical roots for identical input, got %s vs %s", r1.Hash, r2.Hash)
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	a := []File{
		{Path: "a.txt", Size: 1, ContentHash: hashOf("a")},
		{Path: "b.txt", Size: 1, ContentHash: hashOf("b")},
	}
	b := []File{
		{Path: "b.txt", Size: 1, ContentHash: hashOf("b")},
		{Path: "a.txt", Size: 1, ContentHash: hashOf("a")},
	}
	ra := Build(a)
	rb := Build(b)
	if ra.Hash != rb.Hash {
		t.Errorf("expected hash to be independent of input order, got %s vs %s", ra.Hash, rb.Hash)
	}
}

func TestBuildSizeIsSum(t *testing.T) {
	files := []File{
		{Path: "a.txt", Size: 10, ContentHash: hashOf("a")},
		{Path: "dir/b.txt", Size: 20, ContentHash: hashOf("b")},
		{Path: "dir/c.txt", Size: 5, ContentHash: hashOf("c")},
	}
	root := Build(files)
	if root.Size != 35 {
		t.Errorf("expected total size 35, got %d", root.Size)
	}
}

func TestDiffUnchangedSubtreePruned(t *testing.T) {
	files := []File{
		{Path: "dir/a.txt", Size: 1, ContentHash: hashOf("a")},
		{Path: "dir/b.txt", Size: 1, ContentHash: hashOf("b")},
		{Path: "top.txt", Size: 1, ContentHash: hashOf("top-old")},
	}
	oldRoot := Build(files)

	files[2].ContentHash = hashOf("top-new")
	newRoot := Build(files)

	diffs := Diff(oldRoot, newRoot)
	if len(diffs) != 1 {
		t.Fatalf("expected only the changed top-level file to appear, got %+v", diffs)
	}
	if diffs[0].Path != "top.txt" || diffs[0].Kind != Modified {
		t.Errorf("unexpected diff entry: %+v", diffs[0])
	}
}

func TestDiffAddedAndDeleted(t *testing.T) {
	old := Build([]File{{Path: "a.txt", Size: 1, ContentHash: hashOf("a")}})
	new := Build([]File{{Path: "b.txt", Size: 1, ContentHash: hashOf("b")}})

	diffs := Diff(old, new)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %+v", diffs)
	}
	kinds := map[string]DiffKind{}
	for _, d := range diffs {
		kinds[d.Path] = d.Kind
	}
	if kinds["a.txt"] != Deleted {
		t.Errorf("expected a.txt deleted, got %v", kinds["a.txt"])
	}
	if kinds["b.txt"] != Added {
		t.Errorf("expected b.txt added, got %v", kinds["b.txt"])
	}
}

func TestDiffTypeChangeReportsDeleteThenAdd(t *testing.T) {
	old := Build([]File{{Path: "x", Size: 1, ContentHash: hashOf("file-x")}})
	new := Build([]File{{Path: "x/inner.txt", Size: 1, ContentHash: hashOf("inner")}})

	diffs := Diff(old, new)
	kinds := map[string]DiffKind{}
	for _, d := range diffs {
		kinds[d.Path] = d.Kind
	}
	if kinds["x"] != Deleted {
		t.Errorf("expected leaf x deleted, got %v", kinds["x"])
	}
	if kinds["x/inner.txt"] != Added {
		t.Errorf("expected x/inner.txt added, got %v", kinds["x/inner.txt"])
	}
}

func TestDiffNoChanges(t *testing.T) {
	files := []File{{Path: "a.txt", Size: 1, ContentHash: hashOf("a")}}
	old := Build(files)
	new := Build(files)
	diffs := Diff(old, new)
	if len(diffs) != 0 {
		t.Errorf("expected no diffs for identical trees, got %+v", diffs)
	}
}
