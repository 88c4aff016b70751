package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"

	"dedupvault/internal/hasher"
	"dedupvault/internal/home"
	"dedupvault/internal/logging"
	"dedupvault/internal/vaulterr"
)

const lockFileName = ".lock"

// orphanGraceWindow is how long an unindexed blob must sit untouched before
// reconciliation will delete it, so a blob mid-write during a concurrent
// Put is never mistaken for an orphan.
const orphanGraceWindow = 10 * time.Minute

// Compression selects whether blobs are zstd-compressed at rest.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// ContentStoreConfig configures a ContentStore.
type ContentStoreConfig struct {
	Home        home.Dir
	Index       *ChunkIndex
	Compression Compression
	Logger      *slog.Logger
}

// ContentStore is the write-once, content-addressable blob layer built on
// top of a ChunkIndex. It shards blobs under Home.ChunksDir() by the first
// four hex characters of their hash.
type ContentStore struct {
	home   home.Dir
	index  *ChunkIndex
	logger *slog.Logger

	lockFile *os.File

	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder

	// stripedMu collapses concurrent Put calls for the same hash into one
	// blob write: each hash hashes to one of len(stripedMu) mutexes.
	stripedMu [256]sync.Mutex
}

// Open acquires an exclusive lock on the storage root, runs
// ReconcileOrphans once, and returns a ready ContentStore. A failed
// reconciliation is logged and does not fail Open.
func Open(cfg ContentStoreConfig) (*ContentStore, error) {
	if err := cfg.Home.EnsureExists(); err != nil {
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("ensure storage dirs: %w", err))
	}

	lockPath := filepath.Join(cfg.Home.Root(), lockFileName)
	lockFile, err := os.OpenFile(filepath.Clean(lockPath), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("storage root %s is locked by another process: %w", cfg.Home.Root(), err))
	}

	cs := &ContentStore{
		home:     cfg.Home,
		index:    cfg.Index,
		logger:   logging.Default(cfg.Logger).With("component", "contentstore"),
		lockFile: lockFile,
		compress: cfg.Compression == CompressionZstd,
	}

	if cs.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = lockFile.Close()
			return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("create zstd encoder: %w", err))
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = lockFile.Close()
			return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("create zstd decoder: %w", err))
		}
		cs.enc, cs.dec = enc, dec
	}

	if _, err := cs.ReconcileOrphans(time.Now()); err != nil {
		cs.logger.Warn("orphan blob reconciliation failed", "error", err)
	}

	return cs, nil
}

// Close releases the storage root lock.
func (cs *ContentStore) Close() error {
	if cs.enc != nil {
		cs.enc.Close()
	}
	if cs.dec != nil {
		cs.dec.Close()
	}
	return cs.lockFile.Close()
}

func (cs *ContentStore) stripe(h hasher.Digest) *sync.Mutex {
	return &cs.stripedMu[h[0]]
}

// Ref increments the refcount for an already-stored chunk, for callers
// (e.g. an incremental backup copying a FileRecord by reference) that
// reuse a chunk without rewriting its bytes.
func (cs *ContentStore) Ref(h hasher.Digest) error {
	mu := cs.stripe(h)
	mu.Lock()
	defer mu.Unlock()
	_, err := cs.index.Incref(h)
	return err
}

// Put writes data if its hash is not already indexed, otherwise increments
// its refcount. Concurrent Put calls for the same hash collapse to one blob
// write.
func (cs *ContentStore) Put(data []byte) (hasher.Digest, error) {
	h := hasher.HashBuffer(data)

	mu := cs.stripe(h)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := cs.index.Lookup(h); err != nil {
		return hasher.Digest{}, err
	} else if existing != nil {
		if _, err := cs.index.Incref(h); err != nil {
			return hasher.Digest{}, err
		}
		return h, nil
	}

	locator := cs.home.ShardedChunkPath(h.String())
	if err := cs.writeBlob(locator, data); err != nil {
		return hasher.Digest{}, err
	}

	if _, err := cs.index.PutIfAbsent(h, int64(len(data)), locator); err != nil {
		return hasher.Digest{}, err
	}
	return h, nil
}

func (cs *ContentStore) writeBlob(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}

	payload := data
	if cs.compress {
		payload = cs.enc.EncodeAll(data, nil)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return vaulterr.New(vaulterr.IOError, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return vaulterr.New(vaulterr.IOError, err)
	}
	if err := f.Close(); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	return nil
}

// Get reads and verifies the blob for hash, returning vaulterr.CorruptedChunk
// if the stored content's hash no longer matches.
func (cs *ContentStore) Get(h hasher.Digest) ([]byte, error) {
	entry, err := cs.index.Lookup(h)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, vaulterr.New(vaulterr.NotFound, fmt.Errorf("chunk %s not found", h))
	}

	raw, err := os.ReadFile(entry.Locator)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}

	data := raw
	if cs.compress {
		data, err = cs.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, vaulterr.New(vaulterr.CorruptedChunk, fmt.Errorf("decompress chunk %s: %w", h, err))
		}
	}

	if hasher.HashBuffer(data) != h {
		return nil, vaulterr.New(vaulterr.CorruptedChunk, fmt.Errorf("chunk %s failed integrity check", h))
	}
	return data, nil
}

// Exists reports presence via the index only; it never reads the blob.
func (cs *ContentStore) Exists(h hasher.Digest) (bool, error) {
	entry, err := cs.index.Lookup(h)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// HexDecrefer adapts a ContentStore to metadata.ChunkDecrefer, whose
// interface deals in hex-string hashes since that's how MetadataStore
// persists chunk references.
type HexDecrefer struct {
	Store *ContentStore
}

// Delete parses hash as a hex digest and decrefs it.
func (d HexDecrefer) Delete(hash string) error {
	h, err := hasher.ParseDigest(hash)
	if err != nil {
		return vaulterr.New(vaulterr.InvalidArgument, err)
	}
	return d.Store.Delete(h)
}

// Delete decrefs hash; when the refcount reaches zero the blob is removed
// first, then the index entry. If blob removal fails, the index entry is
// left untouched so the decref is retried on next run.
func (cs *ContentStore) Delete(h hasher.Digest) error {
	mu := cs.stripe(h)
	mu.Lock()
	defer mu.Unlock()

	entry, err := cs.index.Lookup(h)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	newCount, err := cs.index.Decref(h)
	if err != nil {
		return err
	}
	if newCount > 0 {
		return nil
	}

	if err := os.Remove(entry.Locator); err != nil && !os.IsNotExist(err) {
		if _, rerr := cs.index.Incref(h); rerr != nil {
			return vaulterr.New(vaulterr.IOError, fmt.Errorf("remove blob for %s: %w (restore refcount: %v)", h, err, rerr))
		}
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("remove blob for %s: %w", h, err))
	}

	return cs.index.deleteEntry(h)
}

// ReconcileOrphans walks the chunk shard tree and removes blobs whose hash
// has no corresponding index entry and whose mtime is older than the grace
// window, recovering from a crash between blob write and index insert.
func (cs *ContentStore) ReconcileOrphans(now time.Time) (removed int, err error) {
	root := cs.home.ChunksDir()
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		h, parseErr := hasher.ParseDigest(name)
		if parseErr != nil {
			return nil // not a chunk blob (e.g. a leftover .tmp file)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if now.Sub(info.ModTime()) < orphanGraceWindow {
			return nil
		}
		entry, err := cs.index.Lookup(h)
		if err != nil {
			return err
		}
		if entry != nil {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		cs.logger.Info("removed orphan chunk blob", "hash", h.String())
		return nil
	})
	if walkErr != nil {
		return removed, vaulterr.New(vaulterr.IOError, walkErr)
	}
	return removed, nil
}
