// Package retention implements the RetentionEngine: a set of pure policies
// that each propose a prune set over a vault's snapshots, composed by
// intersection so that a snapshot survives if any single policy would keep
// it.
package retention

import (
	"context"
	"log/slog"
	"time"

	"dedupvault/internal/logging"
	"dedupvault/internal/metadata"
)

// VaultState is an immutable view of a vault's finalized snapshots, passed
// to policies without giving them any IO or mutation access.
type VaultState struct {
	// Snapshots holds every finalized snapshot, sorted by CreatedAt ascending
	// (oldest first).
	Snapshots []metadata.Snapshot
	Now       time.Time
}

// Policy decides which snapshots should be pruned. Policies are pure
// functions: no IO, no locks, no mutation.
type Policy interface {
	Apply(state VaultState) []string
}

// PolicyFunc adapts an ordinary function to Policy.
type PolicyFunc func(state VaultState) []string

func (f PolicyFunc) Apply(state VaultState) []string { return f(state) }

// CountRetentionPolicy keeps the k newest snapshots by CreatedAt, proposing
// every older snapshot for pruning.
type CountRetentionPolicy struct {
	keep int
}

// NewCountRetentionPolicy creates a policy that keeps the keep newest
// snapshots.
func NewCountRetentionPolicy(keep int) *CountRetentionPolicy {
	return &CountRetentionPolicy{keep: keep}
}

func (p *CountRetentionPolicy) Apply(state VaultState) []string {
	if p.keep <= 0 || len(state.Snapshots) <= p.keep {
		return nil
	}
	excess := len(state.Snapshots) - p.keep
	result := make([]string, excess)
	for i := 0; i < excess; i++ {
		result[i] = state.Snapshots[i].ID
	}
	return result
}

// AgeRetentionPolicy keeps snapshots created within the last days, proposing
// everything older for pruning.
type AgeRetentionPolicy struct {
	maxAge time.Duration
}

// NewAgeRetentionPolicy creates a policy that keeps snapshots with
// created_at >= now - days.
func NewAgeRetentionPolicy(days int) *AgeRetentionPolicy {
	return &AgeRetentionPolicy{maxAge: time.Duration(days) * 24 * time.Hour}
}

func (p *AgeRetentionPolicy) Apply(state VaultState) []string {
	if p.maxAge <= 0 {
		return nil
	}
	cutoff := state.Now.Add(-p.maxAge)
	var result []string
	for _, snap := range state.Snapshots {
		if snap.CreatedAt.Before(cutoff) {
			result = append(result, snap.ID)
		}
	}
	return result
}

// NeverPrunePolicy never proposes a snapshot for pruning, used to make a
// composed policy a no-op without special-casing an empty policy list.
type NeverPrunePolicy struct{}

func (NeverPrunePolicy) Apply(VaultState) []string { return nil }

// Engine applies a composed set of policies against a MetadataStore.
type Engine struct {
	Metadata *metadata.Store
	Policies []Policy
	Now      func() time.Time
	logger   *slog.Logger
}

// NewEngine constructs a RetentionEngine over policies.
func NewEngine(meta *metadata.Store, policies []Policy, logger *slog.Logger) *Engine {
	return &Engine{
		Metadata: meta,
		Policies: policies,
		Now:      time.Now,
		logger:   logging.Default(logger).With("component", "retentionengine"),
	}
}

// Prune computes the intersection of every policy's prune set (a snapshot
// is kept if any policy would keep it) and, unless dryRun is set, deletes
// each resulting snapshot via MetadataStore.DeleteSnapshot. It returns the
// IDs that were pruned (or would be, under dry_run).
func (e *Engine) Prune(ctx context.Context, dryRun bool, decrefer metadata.ChunkDecrefer) ([]string, error) {
	state, err := e.buildState(ctx)
	if err != nil {
		return nil, err
	}

	pruneSet := e.intersection(state)
	if len(pruneSet) == 0 {
		return nil, nil
	}

	if dryRun {
		return pruneSet, nil
	}

	var pruned []string
	for _, id := range pruneSet {
		if err := e.Metadata.DeleteSnapshot(ctx, id, decrefer); err != nil {
			e.logger.Warn("failed to prune snapshot", "snapshot_id", id, "error", err)
			return pruned, err
		}
		pruned = append(pruned, id)
	}
	return pruned, nil
}

func (e *Engine) buildState(ctx context.Context) (VaultState, error) {
	all, err := e.Metadata.ListSnapshots(ctx)
	if err != nil {
		return VaultState{}, err
	}

	var finalized []metadata.Snapshot
	for _, snap := range all {
		if snap.Status == metadata.StatusFinalized {
			finalized = append(finalized, snap)
		}
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return VaultState{Snapshots: finalized, Now: now()}, nil
}

// intersection returns the snapshot IDs proposed for pruning by every
// policy. With no policies configured, nothing is pruned.
func (e *Engine) intersection(state VaultState) []string {
	if len(e.Policies) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, p := range e.Policies {
		seen := make(map[string]struct{})
		for _, id := range p.Apply(state) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}

	var result []string
	for _, snap := range state.Snapshots {
		if counts[snap.ID] == len(e.Policies) {
			result = append(result, snap.ID)
		}
	}
	return result
}
