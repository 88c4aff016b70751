// Package config provides configuration persistence for an engine instance.
//
// Config is declarative: it describes the desired shape of one vault (where
// its storage root lives, how it chunks, which retention policies apply),
// not how those components are wired together. Store loads it at startup;
// there is no hot-reload.
package config

import "context"

// Store persists and loads a vault's configuration.
type Store interface {
	// Load reads the configuration. Returns nil config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes one vault's desired shape.
type Config struct {
	// StorageRoot records the storage root the config was written for. The
	// CLI locates the vault from --home or home.Default() and does not read
	// this field.
	StorageRoot string `json:"storage_root"`

	Chunker           ChunkerConfig           `json:"chunker"`
	Compression       string                  `json:"compression"` // "none" | "zstd"
	RetentionPolicies []RetentionPolicyConfig `json:"retention_policies"`
	Watch             WatchConfig             `json:"watch"`
}

// ChunkerConfig mirrors chunker.Options for JSON persistence.
type ChunkerConfig struct {
	Kind string `json:"kind"` // "cdc" | "fixed"
	Size int    `json:"size"` // fixed-chunking size
	Min  int    `json:"min"`
	Avg  int    `json:"avg"`
	Max  int    `json:"max"`
}

// RetentionPolicyConfig describes one retention policy to instantiate.
type RetentionPolicyConfig struct {
	// Type selects the policy implementation: "count" | "age".
	Type string `json:"type"`
	// Count is the keep-newest-k count, used when Type == "count".
	Count int `json:"count,omitempty"`
	// Days is the max-age window, used when Type == "age".
	Days int `json:"days,omitempty"`
}

// WatchConfig describes the live filesystem watch for incremental triggers.
type WatchConfig struct {
	Enabled         bool     `json:"enabled"`
	Root            string   `json:"root"`
	ExcludePatterns []string `json:"exclude_patterns"`
	DebounceMS      int      `json:"debounce_ms"`
}
