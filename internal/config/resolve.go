package config

import (
	"fmt"

	"dedupvault/internal/chunker"
	"dedupvault/internal/retention"
	"dedupvault/internal/store"
)

// ChunkerOptions converts the persisted ChunkerConfig into chunker.Options.
// A zero-value Kind ("") defaults to CDC with the chunker package's own
// defaults, matching what an unconfigured vault would do.
func (c ChunkerConfig) ChunkerOptions() (chunker.Options, error) {
	switch c.Kind {
	case "", "cdc":
		return chunker.Options{Kind: chunker.KindCDC, Min: c.Min, Avg: c.Avg, Max: c.Max}, nil
	case "fixed":
		if c.Size <= 0 {
			return chunker.Options{}, fmt.Errorf("config: fixed chunker requires size > 0")
		}
		return chunker.Options{Kind: chunker.KindFixed, Size: c.Size}, nil
	default:
		return chunker.Options{}, fmt.Errorf("config: unknown chunker kind %q", c.Kind)
	}
}

// ResolveCompression converts the persisted compression string into a
// store.Compression value.
func (c *Config) ResolveCompression() (store.Compression, error) {
	switch c.Compression {
	case "", "none":
		return store.CompressionNone, nil
	case "zstd":
		return store.CompressionZstd, nil
	default:
		return store.CompressionNone, fmt.Errorf("config: unknown compression %q", c.Compression)
	}
}

// BuildRetentionPolicies builds the concrete retention.Policy list described by
// RetentionPolicies.
func (c *Config) BuildRetentionPolicies() ([]retention.Policy, error) {
	policies := make([]retention.Policy, 0, len(c.RetentionPolicies))
	for _, p := range c.RetentionPolicies {
		switch p.Type {
		case "count":
			policies = append(policies, retention.NewCountRetentionPolicy(p.Count))
		case "age":
			policies = append(policies, retention.NewAgeRetentionPolicy(p.Days))
		default:
			return nil, fmt.Errorf("config: unknown retention policy type %q", p.Type)
		}
	}
	return policies, nil
}
