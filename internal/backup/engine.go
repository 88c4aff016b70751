package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"dedupvault/internal/changetracker"
	"dedupvault/internal/chunker"
	"dedupvault/internal/hasher"
	"dedupvault/internal/logging"
	"dedupvault/internal/merkle"
	"dedupvault/internal/metadata"
	"dedupvault/internal/store"
	"dedupvault/internal/vaulterr"
	"dedupvault/internal/walk"
)

const defaultConcurrency = 4

// retryAttempts/retryMin bound the exponential backoff for storage write
// errors: 3 attempts, exponential from 100ms.
const (
	retryAttempts = 3
	retryMin      = 100 * time.Millisecond
	retryMax      = 2 * time.Second
)

// Engine coordinates a backup run across the chunker, content store, and
// metadata store.
type Engine struct {
	Content  *store.ContentStore
	Metadata *metadata.Store
	Now      func() time.Time
	logger   *slog.Logger
	progress ProgressSink

	// Journal, if set, supplies the recorded change events consulted by
	// the incremental candidate predicate alongside mtime. A nil Journal
	// degrades the candidate set to mtime alone.
	Journal *changetracker.Journal

	mu    sync.Mutex
	state State
}

// NewEngine constructs a BackupEngine. sink may be nil; it receives
// progress events as files are processed during a run.
func NewEngine(content *store.ContentStore, meta *metadata.Store, logger *slog.Logger, sink ProgressSink) *Engine {
	return &Engine{
		Content:  content,
		Metadata: meta,
		Now:      time.Now,
		logger:   logging.Default(logger).With("component", "backupengine"),
		progress: sink,
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Backup runs a full backup of sourceDir into a new snapshot.
func (e *Engine) Backup(ctx context.Context, sourceDir string, opts Options) (Result, error) {
	return e.run(ctx, sourceDir, opts, "", nil)
}

// BackupIncremental runs an incremental backup relative to parentSnapshotID:
// only candidate files (selected by candidates) are rechunked; every other
// file present in the parent snapshot is carried forward by reference. If
// candidates is nil, the default candidate set is the union of every path
// with a journal event recorded after the parent snapshot's creation time
// and every file whose mtime is newer than the parent's creation time.
func (e *Engine) BackupIncremental(ctx context.Context, sourceDir string, opts Options, parentSnapshotID string, candidates func(walk.Entry, metadata.Snapshot) bool) (Result, error) {
	return e.run(ctx, sourceDir, opts, parentSnapshotID, candidates)
}

// mtimeCandidate selects a file as a rechunk candidate whenever its mtime
// is newer than the parent snapshot's creation time.
func mtimeCandidate(entry walk.Entry, parent metadata.Snapshot) bool {
	return time.Unix(0, entry.Mtime).After(parent.CreatedAt)
}

// journalCandidatePaths replays the engine's journal and returns the set of
// paths with an event recorded strictly after parent.CreatedAt. It returns
// nil if the engine has no journal attached.
func (e *Engine) journalCandidatePaths(parent metadata.Snapshot) map[string]bool {
	if e.Journal == nil {
		return nil
	}
	changed := make(map[string]bool)
	for event, err := range e.Journal.Replay() {
		if err != nil {
			e.logger.Warn("journal replay error during incremental candidate scan", "error", err)
			break
		}
		if event.Ts.After(parent.CreatedAt) {
			changed[event.Path] = true
		}
	}
	return changed
}

func (e *Engine) run(ctx context.Context, sourceDir string, opts Options, parentSnapshotID string, candidates func(walk.Entry, metadata.Snapshot) bool) (Result, error) {
	start := e.Now()
	e.setState(Idle)
	if ctx.Err() != nil {
		e.setState(Cancelled)
		return Result{State: Cancelled}, vaulterr.New(vaulterr.Cancelled, ctx.Err())
	}

	var parent *metadata.Snapshot
	if parentSnapshotID != "" {
		p, err := e.Metadata.GetSnapshot(ctx, parentSnapshotID)
		if err != nil {
			return Result{State: Failed}, err
		}
		parent = p
	}

	snapshotID, err := e.Metadata.CreateSnapshot(ctx, opts.Name, opts.Description, parentSnapshotID)
	if err != nil {
		return Result{State: Failed}, err
	}

	e.setState(Scanning)
	entries, err := walk.Walk(sourceDir, opts.Walk)
	if err != nil {
		return Result{SnapshotID: snapshotID, State: Failed}, err
	}

	var parentFiles map[string]metadata.FileRecord
	if parent != nil {
		recs, err := e.Metadata.ListFiles(ctx, parent.ID, "")
		if err != nil {
			return Result{SnapshotID: snapshotID, State: Failed}, err
		}
		parentFiles = make(map[string]metadata.FileRecord, len(recs))
		for _, r := range recs {
			parentFiles[r.Path] = r
		}
	}

	var journalChanged map[string]bool
	if parent != nil && candidates == nil {
		journalChanged = e.journalCandidatePaths(*parent)
	}
	if candidates == nil {
		candidates = func(entry walk.Entry, parent metadata.Snapshot) bool {
			if journalChanged != nil && journalChanged[entry.Path] {
				return true
			}
			return mtimeCandidate(entry, parent)
		}
	}

	var totalFiles int
	var totalBytes int64
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		totalFiles++
		totalBytes += entry.Size
	}

	e.setState(Chunking)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		mu                  sync.Mutex
		filesProcessed      int
		filesCarriedForward int
		filesSkipped        int
		bytesProcessed      int64
		merkleFiles         []merkle.File
		cancelled           bool
	)

	for _, entry := range entries {
		entry := entry
		if entry.IsDir {
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				cancelled = true
				mu.Unlock()
				return nil
			}

			var rec metadata.FileRecord
			var err error
			carried := false

			if parent != nil && parentFiles != nil && !candidates(entry, *parent) {
				if prior, ok := parentFiles[entry.Path]; ok {
					rec, err = e.carryForward(prior, snapshotID)
					carried = true
				} else {
					rec, err = e.processFile(gctx, entry, snapshotID, opts.Chunker, opts.VerifyOnWrite)
				}
			} else {
				rec, err = e.processFile(gctx, entry, snapshotID, opts.Chunker, opts.VerifyOnWrite)
			}

			if err != nil {
				e.logger.Warn("skipping file after processing error", "path", entry.Path, "error", err)
				mu.Lock()
				filesSkipped++
				mu.Unlock()
				return nil
			}

			if err := e.Metadata.AddFile(gctx, rec); err != nil {
				mu.Lock()
				filesSkipped++
				mu.Unlock()
				e.logger.Warn("skipping file after metadata write error", "path", entry.Path, "error", err)
				return nil
			}

			mu.Lock()
			if carried {
				filesCarriedForward++
			} else {
				filesProcessed++
			}
			bytesProcessed += rec.Size
			merkleFiles = append(merkleFiles, merkle.File{Path: rec.Path, Size: rec.Size, ContentHash: mustDigest(rec.ContentHash)})
			done := filesProcessed + filesCarriedForward
			doneBytes := bytesProcessed
			mu.Unlock()

			if e.progress != nil {
				e.progress(ProgressEvent{
					FilesProcessed: done,
					TotalFiles:     totalFiles,
					BytesProcessed: doneBytes,
					TotalBytes:     totalBytes,
					CurrentFile:    rec.Path,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.setState(Failed)
		return Result{SnapshotID: snapshotID, State: Failed}, err
	}

	if cancelled || ctx.Err() != nil {
		e.setState(Cancelled)
		return Result{
			SnapshotID:          snapshotID,
			FilesProcessed:      filesProcessed,
			FilesCarriedForward: filesCarriedForward,
			FilesSkipped:        filesSkipped,
			BytesProcessed:      bytesProcessed,
			Elapsed:             e.Now().Sub(start),
			State:               Cancelled,
		}, vaulterr.New(vaulterr.Cancelled, ctx.Err())
	}

	e.setState(Finalizing)
	root := merkle.Build(merkleFiles)
	totalSnapshotFiles := int64(filesProcessed + filesCarriedForward)
	if err := e.Metadata.FinalizeSnapshot(ctx, snapshotID, totalSnapshotFiles, bytesProcessed, root.Hash.String()); err != nil {
		e.setState(Failed)
		return Result{SnapshotID: snapshotID, State: Failed}, err
	}

	e.setState(Completed)
	return Result{
		SnapshotID:          snapshotID,
		FilesProcessed:      filesProcessed,
		FilesCarriedForward: filesCarriedForward,
		FilesSkipped:        filesSkipped,
		BytesProcessed:      bytesProcessed,
		Elapsed:             e.Now().Sub(start),
		State:               Completed,
	}, nil
}

// processFile chunks a file from scratch, writing each chunk to the
// content store with bounded retry, and returns its new FileRecord. If
// verifyOnWrite is set, every chunk is read back and re-verified against
// its own hash immediately after being written.
func (e *Engine) processFile(ctx context.Context, entry walk.Entry, snapshotID string, chunkOpts chunker.Options, verifyOnWrite bool) (metadata.FileRecord, error) {
	f, err := os.Open(entry.AbsPath)
	if err != nil {
		return metadata.FileRecord{}, vaulterr.New(vaulterr.IOError, err)
	}
	defer f.Close()

	c, err := chunker.New(f, chunkOpts)
	if err != nil {
		return metadata.FileRecord{}, err
	}

	var chunkHashes []string
	contentHasher := hasher.New()

	for {
		if ctx.Err() != nil {
			return metadata.FileRecord{}, vaulterr.New(vaulterr.Cancelled, ctx.Err())
		}

		chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return metadata.FileRecord{}, vaulterr.New(vaulterr.IOError, err)
		}

		if err := e.putWithRetry(chunk.Data); err != nil {
			return metadata.FileRecord{}, err
		}
		if verifyOnWrite {
			if _, err := e.Content.Get(chunk.Hash); err != nil {
				return metadata.FileRecord{}, err
			}
		}
		chunkHashes = append(chunkHashes, chunk.Hash.String())
		contentHasher.Update(chunk.Hash[:])
	}

	return metadata.FileRecord{
		FileID:      newFileID(entry.Path),
		SnapshotID:  snapshotID,
		Path:        entry.Path,
		Size:        entry.Size,
		Mtime:       time.Unix(0, entry.Mtime),
		ContentHash: contentHasher.Sum().String(),
		ChunkHashes: chunkHashes,
	}, nil
}

// carryForward copies a prior FileRecord into the new snapshot without
// rechunking, incrementing the refcount of every chunk it references.
func (e *Engine) carryForward(prior metadata.FileRecord, snapshotID string) (metadata.FileRecord, error) {
	for _, h := range prior.ChunkHashes {
		digest, err := hasher.ParseDigest(h)
		if err != nil {
			return metadata.FileRecord{}, vaulterr.New(vaulterr.CorruptedChunk, err)
		}
		if err := e.Content.Ref(digest); err != nil {
			return metadata.FileRecord{}, err
		}
	}
	rec := prior
	rec.SnapshotID = snapshotID
	return rec, nil
}

// putWithRetry writes data to the content store, retrying transient
// failures with bounded exponential backoff.
func (e *Engine) putWithRetry(data []byte) error {
	b := &backoff.Backoff{Min: retryMin, Max: retryMax, Factor: 2, Jitter: true}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if _, err := e.Content.Put(data); err != nil {
			lastErr = err
			if !vaulterr.IsTransient(err) {
				return err
			}
			time.Sleep(b.Duration())
			continue
		}
		return nil
	}
	return fmt.Errorf("put chunk after %d attempts: %w", retryAttempts, lastErr)
}

func mustDigest(hex string) hasher.Digest {
	d, err := hasher.ParseDigest(hex)
	if err != nil {
		return hasher.Digest{}
	}
	return d
}

func newFileID(path string) string {
	return hasher.HashBuffer([]byte(path)).String()
}
