// Package store implements the two storage components layered directly on
// the filesystem: ChunkIndex, a durable hash->location map, and
// ContentStore, the sharded content-addressable blob store built on top of
// it.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"go.etcd.io/bbolt"

	"dedupvault/internal/hasher"
	"dedupvault/internal/logging"
	"dedupvault/internal/vaulterr"
)

// ErrNegativeRefcount is a fatal invariant violation: decref must never
// take a refcount below zero.
var ErrNegativeRefcount = errors.New("chunkindex: decref below zero")

var chunksBucket = []byte("chunks")

// Entry is the persisted metadata for one chunk.
type Entry struct {
	Hash     hasher.Digest
	Length   int64
	Locator  string // filesystem path of the blob (home.Dir.ShardedChunkPath)
	Refcount int64
}

// PutResult reports the outcome of PutIfAbsent.
type PutResult struct {
	Inserted bool
	Prior    *Entry
}

// ChunkIndex is a durable hash -> Entry map backed by bbolt. Every mutating
// call commits its own transaction before returning, giving fsync-class
// durability: an acknowledged result survives a crash immediately after.
type ChunkIndex struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenChunkIndex opens (creating if necessary) the bbolt-backed index at
// path.
func OpenChunkIndex(path string, logger *slog.Logger) (*ChunkIndex, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("open chunk index: %w", err))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chunksBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("init chunk index buckets: %w", err))
	}
	return &ChunkIndex{
		db:     db,
		logger: logging.Default(logger).With("component", "chunkindex"),
	}, nil
}

// Close releases the underlying database file.
func (idx *ChunkIndex) Close() error {
	return idx.db.Close()
}

// PutIfAbsent inserts a new entry for hash, or increments the refcount of
// an existing one. Atomic with respect to other index operations.
func (idx *ChunkIndex) PutIfAbsent(hash hasher.Digest, length int64, locator string) (PutResult, error) {
	var result PutResult
	err := idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		key := hash[:]
		existing := b.Get(key)
		if existing != nil {
			e := decodeEntry(hash, existing)
			e.Refcount++
			if err := b.Put(key, encodeEntry(e)); err != nil {
				return err
			}
			result = PutResult{Inserted: false, Prior: &e}
			return nil
		}
		e := Entry{Hash: hash, Length: length, Locator: locator, Refcount: 1}
		result = PutResult{Inserted: true}
		return b.Put(key, encodeEntry(e))
	})
	if err != nil {
		return PutResult{}, vaulterr.New(vaulterr.IOError, fmt.Errorf("put_if_absent: %w", err))
	}
	return result, nil
}

// Lookup returns the entry for hash, or nil if absent.
func (idx *ChunkIndex) Lookup(hash hasher.Digest) (*Entry, error) {
	var entry *Entry
	err := idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		v := b.Get(hash[:])
		if v == nil {
			return nil
		}
		e := decodeEntry(hash, v)
		entry = &e
		return nil
	})
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, fmt.Errorf("lookup: %w", err))
	}
	return entry, nil
}

// Incref increments the refcount for hash and returns the new value. hash
// must already exist.
func (idx *ChunkIndex) Incref(hash hasher.Digest) (int64, error) {
	return idx.adjustRefcount(hash, 1)
}

// Decref decrements the refcount for hash and returns the new value.
// Decrementing below zero is a fatal invariant violation, returned as
// ErrNegativeRefcount.
func (idx *ChunkIndex) Decref(hash hasher.Digest) (int64, error) {
	return idx.adjustRefcount(hash, -1)
}

func (idx *ChunkIndex) adjustRefcount(hash hasher.Digest, delta int64) (int64, error) {
	var newCount int64
	err := idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		key := hash[:]
		v := b.Get(key)
		if v == nil {
			return vaulterr.New(vaulterr.NotFound, fmt.Errorf("chunkindex: %s not found", hash))
		}
		e := decodeEntry(hash, v)
		e.Refcount += delta
		if e.Refcount < 0 {
			return ErrNegativeRefcount
		}
		newCount = e.Refcount
		return b.Put(key, encodeEntry(e))
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// deleteEntry removes hash's row entirely. Called only once its refcount
// has reached zero and the backing blob has been removed.
func (idx *ChunkIndex) deleteEntry(hash hasher.Digest) error {
	err := idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(chunksBucket).Delete(hash[:])
	})
	if err != nil {
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("delete entry: %w", err))
	}
	return nil
}

// Iter returns a lazy, snapshot-consistent sequence of all entries, taken
// under a single read transaction.
func (idx *ChunkIndex) Iter() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		err := idx.db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket(chunksBucket)
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var h hasher.Digest
				copy(h[:], k)
				if !yield(decodeEntry(h, v), nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, vaulterr.New(vaulterr.IOError, err))
		}
	}
}

// IndexExists reports whether the index file exists at all, for startup checks.
func IndexExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// encodeEntry/decodeEntry use a flat binary layout: 8-byte length, 8-byte
// refcount, then the locator string. The hash itself is the bucket key and
// isn't duplicated in the value.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 16+len(e.Locator))
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Length))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Refcount))
	copy(buf[16:], e.Locator)
	return buf
}

func decodeEntry(hash hasher.Digest, buf []byte) Entry {
	return Entry{
		Hash:     hash,
		Length:   int64(binary.BigEndian.Uint64(buf[0:8])),
		Refcount: int64(binary.BigEndian.Uint64(buf[8:16])),
		Locator:  string(buf[16:]),
	}
}
