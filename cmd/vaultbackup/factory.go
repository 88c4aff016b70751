package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dedupvault/internal/backup"
	"dedupvault/internal/changetracker"
	"dedupvault/internal/config"
	configfile "dedupvault/internal/config/file"
	"dedupvault/internal/home"
	"dedupvault/internal/metadata"
	"dedupvault/internal/restore"
	"dedupvault/internal/store"
)

// deps bundles the open storage handles one subcommand needs. Callers must
// call close() before returning.
type deps struct {
	home    home.Dir
	index   *store.ChunkIndex
	store   *store.ContentStore
	meta    *metadata.Store
	config  *config.Config // nil if the vault has no persisted config
	journal *changetracker.Journal
}

func (d *deps) close() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.index != nil {
		_ = d.index.Close()
	}
	if d.meta != nil {
		_ = d.meta.Close()
	}
	if d.journal != nil {
		_ = d.journal.Close()
	}
}

// openDeps resolves --home from cmd's persistent flags and opens every
// storage backend a subcommand needs.
func openDeps(cmd *cobra.Command, logger *slog.Logger) (*deps, error) {
	homeFlag, _ := cmd.Flags().GetString("home")

	var h home.Dir
	if homeFlag != "" {
		h = home.New(homeFlag)
	} else {
		resolved, err := home.Default()
		if err != nil {
			return nil, fmt.Errorf("resolve storage root: %w", err)
		}
		h = resolved
	}

	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("ensure storage root: %w", err)
	}

	cfg, err := configfile.NewStore(h.ConfigPath()).Load(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("load vault config: %w", err)
	}

	compression := store.CompressionNone
	if cfg != nil {
		compression, err = cfg.ResolveCompression()
		if err != nil {
			return nil, fmt.Errorf("resolve compression: %w", err)
		}
	}

	idx, err := store.OpenChunkIndex(h.IndexPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open chunk index: %w", err)
	}

	cs, err := store.Open(store.ContentStoreConfig{Home: h, Index: idx, Compression: compression, Logger: logger})
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("open content store: %w", err)
	}

	meta, err := metadata.Open(h.MetadataPath(), logger)
	if err != nil {
		_ = cs.Close()
		_ = idx.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	journal, err := changetracker.OpenJournal(h.JournalPath(), logger)
	if err != nil {
		_ = meta.Close()
		_ = cs.Close()
		_ = idx.Close()
		return nil, fmt.Errorf("open change journal: %w", err)
	}

	return &deps{home: h, index: idx, store: cs, meta: meta, config: cfg, journal: journal}, nil
}

// newBackupEngine builds a BackupEngine wired to the vault's change
// journal, so incremental runs consult the union of journal-event paths
// and mtime rather than mtime alone. progress may be nil.
func newBackupEngine(d *deps, logger *slog.Logger, progress backup.ProgressSink) *backup.Engine {
	e := backup.NewEngine(d.store, d.meta, logger, progress)
	e.Journal = d.journal
	return e
}

func newRestoreEngine(d *deps, logger *slog.Logger, progress restore.ProgressSink) *restore.Engine {
	return restore.NewEngine(d.store, d.meta, logger, progress)
}

func hexDecrefer(d *deps) store.HexDecrefer {
	return store.HexDecrefer{Store: d.store}
}
