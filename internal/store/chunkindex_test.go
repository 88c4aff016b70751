package store

import (
	"path/filepath"
	"testing"

	"dedupvault/internal/hasher"
)

func openTestIndex(t *testing.T) *ChunkIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenChunkIndex(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestPutIfAbsentInserts(t *testing.T) {
	idx := openTestIndex(t)
	h := hasher.HashBuffer([]byte("content"))

	result, err := idx.PutIfAbsent(h, 7, "aa/bb/"+h.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Inserted {
		t.Fatalf("expected Inserted=true for first insert")
	}

	entry, err := idx.Lookup(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry == nil || entry.Refcount != 1 {
		t.Fatalf("expected refcount 1, got %+v", entry)
	}
}

func TestPutIfAbsentIncrements(t *testing.T) {
	idx := openTestIndex(t)
	h := hasher.HashBuffer([]byte("content"))

	if _, err := idx.PutIfAbsent(h, 7, "loc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := idx.PutIfAbsent(h, 7, "loc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Inserted {
		t.Fatalf("expected Inserted=false on second call")
	}
	if result.Prior == nil || result.Prior.Refcount != 2 {
		t.Fatalf("expected prior refcount 2, got %+v", result.Prior)
	}
}

func TestLookupMissing(t *testing.T) {
	idx := openTestIndex(t)
	h := hasher.HashBuffer([]byte("nope"))
	entry, err := idx.Lookup(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry, got %+v", entry)
	}
}

func TestIncrefDecref(t *testing.T) {
	idx := openTestIndex(t)
	h := hasher.HashBuffer([]byte("content"))
	if _, err := idx.PutIfAbsent(h, 7, "loc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := idx.Incref(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected refcount 2, got %d", n)
	}

	n, err = idx.Decref(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected refcount 1, got %d", n)
	}
}

func TestDecrefBelowZeroIsFatal(t *testing.T) {
	idx := openTestIndex(t)
	h := hasher.HashBuffer([]byte("content"))
	if _, err := idx.PutIfAbsent(h, 7, "loc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := idx.Decref(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := idx.Decref(h); err != ErrNegativeRefcount {
		t.Errorf("expected ErrNegativeRefcount, got %v", err)
	}
}

func TestIterSnapshot(t *testing.T) {
	idx := openTestIndex(t)
	h1 := hasher.HashBuffer([]byte("one"))
	h2 := hasher.HashBuffer([]byte("two"))
	if _, err := idx.PutIfAbsent(h1, 3, "loc1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := idx.PutIfAbsent(h2, 3, "loc2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for entry, err := range idx.Iter() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[entry.Hash.String()] = true
	}
	if !seen[h1.String()] || !seen[h2.String()] {
		t.Errorf("expected both entries in iteration, got %v", seen)
	}
}
