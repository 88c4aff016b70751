// Package metadata persists snapshots and file records in a local sqlite
// database. It is the authoritative record of what a snapshot contains;
// the ContentStore only knows about chunk bytes and refcounts.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dedupvault/internal/logging"
	"dedupvault/internal/vaulterr"
)

// timeFormat is fixed-width (always nine fractional digits, UTC "Z"), so
// the stored text sorts in chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFinalized is returned by DeleteSnapshot when called on a snapshot
// still in BUILDING status.
var ErrNotFinalized = errors.New("metadata: snapshot is not finalized")

// ChunkDecrefer is the narrow view of the content store DeleteSnapshot
// needs: one decref per chunk occurrence, collapsing the blob when the
// refcount reaches zero.
type ChunkDecrefer interface {
	Delete(hash string) error
}

// Store is the sqlite-backed MetadataStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating and migrating if necessary) the metadata database
// at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("create metadata directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("open sqlite: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("set journal_mode: %w", err))
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("set foreign_keys: %w", err))
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("run migrations: %w", err))
	}

	return &Store{
		db:     db,
		logger: logging.Default(logger).With("component", "metadata"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSnapshot inserts a new BUILDING snapshot and returns its ID.
func (s *Store) CreateSnapshot(ctx context.Context, name, description, parentID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, name, description, parent_id, status, created_at, file_count, total_bytes, merkle_root)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, 0, 0, '')`,
		id, name, description, parentID, StatusBuilding, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return "", vaulterr.New(vaulterr.IOError, fmt.Errorf("create snapshot: %w", err))
	}
	return id, nil
}

// AddFile inserts or replaces a file record and its chunk sequence within a
// BUILDING snapshot. Idempotent on (snapshot_id, path).
func (s *Store) AddFile(ctx context.Context, rec FileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM snapshots WHERE id = ?`, rec.SnapshotID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vaulterr.New(vaulterr.NotFound, fmt.Errorf("snapshot %s not found", rec.SnapshotID))
		}
		return vaulterr.New(vaulterr.IOError, err)
	}
	if SnapshotStatus(status) != StatusBuilding {
		return vaulterr.New(vaulterr.AlreadyFinalized, fmt.Errorf("snapshot %s is already finalized", rec.SnapshotID))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (file_id, snapshot_id, path, size, mtime, content_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_id, path) DO UPDATE SET
			file_id = excluded.file_id,
			size = excluded.size,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash`,
		rec.FileID, rec.SnapshotID, rec.Path, rec.Size, rec.Mtime.UTC().Format(timeFormat), rec.ContentHash)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("upsert file: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_chunks WHERE snapshot_id = ? AND file_id = ?`, rec.SnapshotID, rec.FileID); err != nil {
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("clear prior chunk sequence: %w", err))
	}
	for position, chunkHash := range rec.ChunkHashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_chunks (file_id, snapshot_id, position, chunk_hash) VALUES (?, ?, ?, ?)`,
			rec.FileID, rec.SnapshotID, position, chunkHash); err != nil {
			return vaulterr.New(vaulterr.IOError, fmt.Errorf("insert chunk sequence: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	return nil
}

// FinalizeSnapshot transitions a BUILDING snapshot to FINALIZED, recording
// its final file count, total size, and Merkle root. FINALIZED snapshots
// are immutable; calling this twice on the same snapshot is an error.
func (s *Store) FinalizeSnapshot(ctx context.Context, id string, fileCount, totalBytes int64, merkleRoot string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET status = ?, file_count = ?, total_bytes = ?, merkle_root = ?
		WHERE id = ? AND status = ?`,
		StatusFinalized, fileCount, totalBytes, merkleRoot, id, StatusBuilding)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("finalize snapshot: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if n == 0 {
		return vaulterr.New(vaulterr.AlreadyFinalized, fmt.Errorf("snapshot %s is already finalized or does not exist", id))
	}
	return nil
}

// GetSnapshot returns the snapshot with the given ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, COALESCE(parent_id, ''), status, created_at, file_count, total_bytes, merkle_root
		FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vaulterr.New(vaulterr.NotFound, fmt.Errorf("snapshot %s not found", id))
	}
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	return snap, nil
}

// ListSnapshots returns all snapshots ordered by creation time, oldest
// first.
func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, COALESCE(parent_id, ''), status, created_at, file_count, total_bytes, merkle_root
		FROM snapshots ORDER BY created_at ASC`)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		out = append(out, *snap)
	}
	return out, vaulterr.New(vaulterr.IOError, rows.Err())
}

// ListFiles returns every file record in snapshotID whose path starts with
// pathPrefix (empty prefix matches everything), ordered by path.
func (s *Store) ListFiles(ctx context.Context, snapshotID, pathPrefix string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, snapshot_id, path, size, mtime, content_hash
		FROM files WHERE snapshot_id = ? AND path LIKE ? || '%'
		ORDER BY path ASC`, snapshotID, pathPrefix)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		var mtime string
		if err := rows.Scan(&rec.FileID, &rec.SnapshotID, &rec.Path, &rec.Size, &mtime, &rec.ContentHash); err != nil {
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		rec.Mtime, err = time.Parse(timeFormat, mtime)
		if err != nil {
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		rec.ChunkHashes, err = s.chunkHashes(ctx, snapshotID, rec.FileID)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, vaulterr.New(vaulterr.IOError, rows.Err())
}

func (s *Store) chunkHashes(ctx context.Context, snapshotID, fileID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_hash FROM file_chunks WHERE snapshot_id = ? AND file_id = ? ORDER BY position ASC`,
		snapshotID, fileID)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, vaulterr.New(vaulterr.IOError, rows.Err())
}

// ReapStaleBuilding finds snapshots still in BUILDING status older than
// before, decrefs whatever chunks they referenced, and removes their rows.
// It recovers storage left behind by a run that crashed or was cancelled
// before FinalizeSnapshot ran.
func (s *Store) ReapStaleBuilding(ctx context.Context, before time.Time, decrefer ChunkDecrefer) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM snapshots WHERE status = ? AND created_at < ?`,
		StatusBuilding, before.UTC().Format(timeFormat))
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	rows.Close()

	var reaped []string
	for _, id := range ids {
		hashes, err := s.allChunkHashes(ctx, id)
		if err != nil {
			return reaped, err
		}
		for _, h := range hashes {
			if err := decrefer.Delete(h); err != nil {
				return reaped, fmt.Errorf("decref chunk %s for stale snapshot %s: %w", h, id, err)
			}
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return reaped, vaulterr.New(vaulterr.IOError, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_chunks WHERE snapshot_id = ?`, id); err != nil {
			_ = tx.Rollback()
			return reaped, vaulterr.New(vaulterr.IOError, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE snapshot_id = ?`, id); err != nil {
			_ = tx.Rollback()
			return reaped, vaulterr.New(vaulterr.IOError, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return reaped, vaulterr.New(vaulterr.IOError, err)
		}
		if err := tx.Commit(); err != nil {
			return reaped, vaulterr.New(vaulterr.IOError, err)
		}
		reaped = append(reaped, id)
	}
	return reaped, nil
}

// DeleteSnapshot removes a FINALIZED snapshot, decrementing each referenced
// chunk's refcount through decrefer first. If any decref fails, the
// metadata rows are left untouched. Once every decref succeeds, the
// snapshot and its file/file_chunks rows are removed inside a single SQL
// transaction: either they all disappear or none do.
func (s *Store) DeleteSnapshot(ctx context.Context, id string, decrefer ChunkDecrefer) error {
	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	if snap.Status != StatusFinalized {
		return vaulterr.New(vaulterr.InvalidArgument, fmt.Errorf("%w: %s", ErrNotFinalized, id))
	}

	hashes, err := s.allChunkHashes(ctx, id)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := decrefer.Delete(h); err != nil {
			return fmt.Errorf("decref chunk %s for snapshot %s: %w", h, id, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_chunks WHERE snapshot_id = ?`, id); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE snapshot_id = ?`, id); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if err := tx.Commit(); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	return nil
}

func (s *Store) allChunkHashes(ctx context.Context, snapshotID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_hash FROM file_chunks WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, vaulterr.New(vaulterr.IOError, rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var status, createdAt string
	if err := row.Scan(&snap.ID, &snap.Name, &snap.Description, &snap.ParentID, &status, &createdAt,
		&snap.FileCount, &snap.TotalBytes, &snap.MerkleRoot); err != nil {
		return nil, err
	}
	snap.Status = SnapshotStatus(status)
	createdAt = strings.TrimSpace(createdAt)
	ts, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = ts
	return &snap, nil
}
