package config

import (
	"testing"

	"dedupvault/internal/chunker"
	"dedupvault/internal/store"
)

func TestChunkerConfigDefaultsToCDC(t *testing.T) {
	opts, err := ChunkerConfig{}.ChunkerOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Kind != chunker.KindCDC {
		t.Fatalf("expected KindCDC, got %v", opts.Kind)
	}
}

func TestChunkerConfigFixedRequiresSize(t *testing.T) {
	if _, err := (ChunkerConfig{Kind: "fixed"}).ChunkerOptions(); err == nil {
		t.Fatal("expected error for fixed chunker with size 0")
	}
	opts, err := (ChunkerConfig{Kind: "fixed", Size: 4096}).ChunkerOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Kind != chunker.KindFixed || opts.Size != 4096 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestChunkerConfigRejectsUnknownKind(t *testing.T) {
	if _, err := (ChunkerConfig{Kind: "bogus"}).ChunkerOptions(); err == nil {
		t.Fatal("expected error for unknown chunker kind")
	}
}

func TestResolveCompression(t *testing.T) {
	cases := []struct {
		in   string
		want store.Compression
	}{
		{"", store.CompressionNone},
		{"none", store.CompressionNone},
		{"zstd", store.CompressionZstd},
	}
	for _, c := range cases {
		cfg := &Config{Compression: c.in}
		got, err := cfg.ResolveCompression()
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Compression(%q) = %v, want %v", c.in, got, c.want)
		}
	}

	if _, err := (&Config{Compression: "bogus"}).ResolveCompression(); err == nil {
		t.Fatal("expected error for unknown compression")
	}
}

func TestBuildRetentionPolicies(t *testing.T) {
	cfg := &Config{
		RetentionPolicies: []RetentionPolicyConfig{
			{Type: "count", Count: 5},
			{Type: "age", Days: 14},
		},
	}
	policies, err := cfg.BuildRetentionPolicies()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
}

func TestBuildRetentionPoliciesRejectsUnknownType(t *testing.T) {
	cfg := &Config{RetentionPolicies: []RetentionPolicyConfig{{Type: "bogus"}}}
	if _, err := cfg.BuildRetentionPolicies(); err == nil {
		t.Fatal("expected error for unknown retention policy type")
	}
}
