package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dedupvault/internal/config"
)

func TestLoadMissingFileReturnsNil(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config, got %+v", cfg)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path)

	want := &config.Config{
		StorageRoot: "/data/vault",
		Chunker:     config.ChunkerConfig{Kind: "cdc", Min: 16384, Avg: 65536, Max: 262144},
		Compression: "zstd",
		RetentionPolicies: []config.RetentionPolicyConfig{
			{Type: "count", Count: 10},
			{Type: "age", Days: 30},
		},
		Watch: config.WatchConfig{Enabled: true, Root: "/data/source", DebounceMS: 500},
	}

	if err := s.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a config, got nil")
	}
	if got.StorageRoot != want.StorageRoot || got.Compression != want.Compression {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.RetentionPolicies) != 2 {
		t.Fatalf("expected 2 retention policies, got %d", len(got.RetentionPolicies))
	}
}

func TestSaveOverwritesPreviousConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path)

	if err := s.Save(context.Background(), &config.Config{StorageRoot: "/first"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(context.Background(), &config.Config{StorageRoot: "/second"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.StorageRoot != "/second" {
		t.Fatalf("expected /second, got %q", got.StorageRoot)
	}
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path)
	if err := s.Save(context.Background(), &config.Config{}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Tamper with the envelope version directly to simulate a config
	// written by a newer, incompatible version of this engine.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(data), `"version": 1`, `"version": 99`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := s.Load(context.Background()); err == nil {
		t.Fatalf("expected an error loading a future config version")
	}
}
