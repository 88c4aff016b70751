// Package home manages the on-disk layout of a backup engine's storage root.
//
// The storage root owns all persistent state for one engine instance: chunk
// blobs, the chunk index, snapshot metadata, and the change-tracking journal
// and dirty bitmaps.
//
// Layout:
//
//	<root>/
//	  storage/
//	    chunks/xx/yy/{hex(hash)}   chunk blobs, sharded by first two hex pairs
//	    index.db                   ChunkIndex (bbolt)
//	    metadata.db                MetadataStore (sqlite)
//	    journal/                   ModificationJournal segments
//	    bitmaps/{file_id}.bmp      per-file BlockBitmap
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a backup engine's storage root.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/dedupvault
//   - macOS:   ~/Library/Application Support/dedupvault
//   - Windows: %APPDATA%/dedupvault
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "dedupvault")}, nil
}

// Root returns the storage root path.
func (d Dir) Root() string {
	return d.root
}

// StorageDir returns the directory holding chunk blobs, indexes, and
// metadata for this root.
func (d Dir) StorageDir() string {
	return filepath.Join(d.root, "storage")
}

// ChunksDir returns the root of the sharded chunk blob tree.
func (d Dir) ChunksDir() string {
	return filepath.Join(d.StorageDir(), "chunks")
}

// IndexPath returns the path to the ChunkIndex database.
func (d Dir) IndexPath() string {
	return filepath.Join(d.StorageDir(), "index.db")
}

// MetadataPath returns the path to the MetadataStore database.
func (d Dir) MetadataPath() string {
	return filepath.Join(d.StorageDir(), "metadata.db")
}

// JournalDir returns the directory holding modification journal segments.
func (d Dir) JournalDir() string {
	return filepath.Join(d.StorageDir(), "journal")
}

// JournalPath returns the path to the vault's modification journal file.
func (d Dir) JournalPath() string {
	return filepath.Join(d.JournalDir(), "events.log")
}

// BitmapsDir returns the directory holding per-file dirty bitmaps.
func (d Dir) BitmapsDir() string {
	return filepath.Join(d.StorageDir(), "bitmaps")
}

// BitmapPath returns the path to the dirty bitmap for a given file ID.
func (d Dir) BitmapPath(fileID string) string {
	return filepath.Join(d.BitmapsDir(), fileID+".bmp")
}

// ConfigPath returns the path to the vault's declarative config file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.json")
}

// EnsureExists creates the storage root and all its subdirectories if they
// don't already exist.
func (d Dir) EnsureExists() error {
	for _, dir := range []string{d.StorageDir(), d.ChunksDir(), d.JournalDir(), d.BitmapsDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ShardedChunkPath returns the sharded filesystem path for a chunk blob
// given its lowercase hex digest: chunks/xx/yy/{hex}.
func (d Dir) ShardedChunkPath(hexHash string) string {
	if len(hexHash) < 4 {
		return filepath.Join(d.ChunksDir(), hexHash)
	}
	return filepath.Join(d.ChunksDir(), hexHash[0:2], hexHash[2:4], hexHash)
}
