package changetracker

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dedupvault/internal/format"
	"dedupvault/internal/logging"
	"dedupvault/internal/vaulterr"
)

const journalVersion = 1

// Journal is an append-only, durably-flushed log of FileChangeEvents. Every
// Record call fsyncs before returning, so an acknowledged event survives an
// immediate crash.
type Journal struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	logger *slog.Logger
}

// OpenJournal opens (creating if necessary) the journal file at path,
// writing the format header if the file is new.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}

	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}

	j := &Journal{
		path:   path,
		f:      f,
		logger: logging.Default(logger).With("component", "journal"),
	}

	if isNew {
		header := format.NewHeader(format.MagicJournal, journalVersion).Encode()
		if _, err := f.Write(header[:]); err != nil {
			_ = f.Close()
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, vaulterr.New(vaulterr.IOError, err)
		}
	}

	return j, nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Record durably appends event to the journal before returning.
func (j *Journal) Record(event FileChangeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	buf := encodeEvent(event)
	if _, err := j.f.Write(buf); err != nil {
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("append journal event: %w", err))
	}
	if err := j.f.Sync(); err != nil {
		return vaulterr.New(vaulterr.IOError, fmt.Errorf("sync journal: %w", err))
	}
	return nil
}

// Replay returns every recorded event in append order, as a lazy,
// snapshot-consistent sequence read from the file under the journal's lock.
func (j *Journal) Replay() iter.Seq2[FileChangeEvent, error] {
	return func(yield func(FileChangeEvent, error) bool) {
		j.mu.Lock()
		defer j.mu.Unlock()

		f, err := os.Open(j.path)
		if err != nil {
			yield(FileChangeEvent{}, vaulterr.New(vaulterr.IOError, err))
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		headerBuf := make([]byte, format.HeaderSize)
		if _, err := io.ReadFull(r, headerBuf); err != nil {
			yield(FileChangeEvent{}, vaulterr.New(vaulterr.IOError, err))
			return
		}
		if _, err := format.DecodeAndValidate(headerBuf, format.MagicJournal, journalVersion); err != nil {
			yield(FileChangeEvent{}, vaulterr.New(vaulterr.CorruptedChunk, err))
			return
		}

		for {
			event, err := decodeEvent(r)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(FileChangeEvent{}, vaulterr.New(vaulterr.IOError, err))
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

// Compact rewrites the journal, dropping every event strictly older than
// beforeTs. It replaces the file atomically via rename.
func (j *Journal) Compact(beforeTs time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tmpPath := j.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}

	header := format.NewHeader(format.MagicJournal, journalVersion).Encode()
	if _, err := tmp.Write(header[:]); err != nil {
		_ = tmp.Close()
		return vaulterr.New(vaulterr.IOError, err)
	}

	src, err := os.Open(j.path)
	if err != nil {
		_ = tmp.Close()
		return vaulterr.New(vaulterr.IOError, err)
	}
	r := bufio.NewReader(src)
	srcHeaderBuf := make([]byte, format.HeaderSize)
	if _, err := io.ReadFull(r, srcHeaderBuf); err != nil {
		_ = src.Close()
		_ = tmp.Close()
		return vaulterr.New(vaulterr.IOError, err)
	}

	for {
		event, derr := decodeEvent(r)
		if derr == io.EOF {
			break
		}
		if derr != nil {
			_ = src.Close()
			_ = tmp.Close()
			return vaulterr.New(vaulterr.IOError, derr)
		}
		if event.Ts.Before(beforeTs) {
			continue
		}
		if _, err := tmp.Write(encodeEvent(event)); err != nil {
			_ = src.Close()
			_ = tmp.Close()
			return vaulterr.New(vaulterr.IOError, err)
		}
	}
	_ = src.Close()

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return vaulterr.New(vaulterr.IOError, err)
	}
	if err := tmp.Close(); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}

	if err := j.f.Close(); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}

	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return vaulterr.New(vaulterr.IOError, err)
	}
	j.f = f
	return nil
}

// encodeEvent serializes one event as:
//
//	kind (byte) | ts_unix_nano (uint64) | path_len (uint16) | path |
//	is_dir (byte) | range_offset (int64) | range_length (int64)
//
// A zero range_length means the event carries no byte range; every real
// range has a positive length.
func encodeEvent(e FileChangeEvent) []byte {
	pathBytes := []byte(e.Path)
	buf := make([]byte, 1+8+2+len(pathBytes)+1+8+8)
	off := 0
	buf[off] = byte(e.Kind)
	off++
	binary.BigEndian.PutUint64(buf[off:], uint64(e.Ts.UnixNano()))
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(pathBytes)))
	off += 2
	copy(buf[off:], pathBytes)
	off += len(pathBytes)
	if e.IsDir {
		buf[off] = 1
	}
	off++
	var rangeOffset, rangeLength int64
	if e.Range != nil {
		rangeOffset, rangeLength = e.Range.Offset, e.Range.Length
	}
	binary.BigEndian.PutUint64(buf[off:], uint64(rangeOffset))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(rangeLength))
	off += 8
	return buf
}

func decodeEvent(r io.Reader) (FileChangeEvent, error) {
	var head [1 + 8 + 2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return FileChangeEvent{}, err
	}
	kind := ChangeKind(head[0])
	ts := int64(binary.BigEndian.Uint64(head[1:9]))
	n := binary.BigEndian.Uint16(head[9:11])

	pathBytes := make([]byte, n)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return FileChangeEvent{}, err
	}

	var tail [1 + 8 + 8]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return FileChangeEvent{}, err
	}
	isDir := tail[0] == 1
	rangeOffset := int64(binary.BigEndian.Uint64(tail[1:9]))
	rangeLength := int64(binary.BigEndian.Uint64(tail[9:17]))

	event := FileChangeEvent{
		Kind:  kind,
		Path:  string(pathBytes),
		Ts:    time.Unix(0, ts).UTC(),
		IsDir: isDir,
	}
	if rangeLength != 0 {
		event.Range = &ByteRange{Offset: rangeOffset, Length: rangeLength}
	}
	return event, nil
}
