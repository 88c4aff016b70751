package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/dedupvault-test")
	if d.Root() != "/tmp/dedupvault-test" {
		t.Errorf("expected root /tmp/dedupvault-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() == "" {
		t.Fatal("expected non-empty root")
	}
	if filepath.Base(d.Root()) != "dedupvault" {
		t.Errorf("expected root to end with 'dedupvault', got %s", d.Root())
	}
}

func TestPaths(t *testing.T) {
	d := New("/data")
	if got := d.StorageDir(); got != "/data/storage" {
		t.Errorf("StorageDir: got %s", got)
	}
	if got := d.ChunksDir(); got != "/data/storage/chunks" {
		t.Errorf("ChunksDir: got %s", got)
	}
	if got := d.IndexPath(); got != "/data/storage/index.db" {
		t.Errorf("IndexPath: got %s", got)
	}
	if got := d.MetadataPath(); got != "/data/storage/metadata.db" {
		t.Errorf("MetadataPath: got %s", got)
	}
	if got := d.JournalDir(); got != "/data/storage/journal" {
		t.Errorf("JournalDir: got %s", got)
	}
	if got := d.BitmapPath("f1"); got != "/data/storage/bitmaps/f1.bmp" {
		t.Errorf("BitmapPath: got %s", got)
	}
}

func TestShardedChunkPath(t *testing.T) {
	d := New("/data")
	hash := "deadbeef0000000000000000000000000000000000000000000000000000"
	want := "/data/storage/chunks/de/ad/" + hash
	if got := d.ShardedChunkPath(hash); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "dedupvault")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(d.ChunksDir())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
