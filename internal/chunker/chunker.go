// Package chunker splits byte streams into content-addressable chunks,
// either by fixed size or by FastCDC content-defined boundaries. It is the
// on-disk-format-sensitive heart of deduplication: two streams that share
// long runs of identical bytes should produce long runs of identical
// chunks regardless of where the differing bytes start.
package chunker

import (
	"errors"
	"io"

	"dedupvault/internal/hasher"
)

const (
	DefaultMin = 16 * 1024
	DefaultAvg = 64 * 1024
	DefaultMax = 256 * 1024
)

// ErrInvalidBounds is returned when min < avg < max does not hold.
var ErrInvalidBounds = errors.New("chunker: require 0 < min < avg < max")

// Chunk is one emitted chunk: its byte range in the stream, its content,
// and its content hash.
type Chunk struct {
	Offset int64
	Length int
	Hash   hasher.Digest
	Data   []byte
}

// Chunker produces an ordered sequence of Chunks from a reader. Next
// returns io.EOF once the stream is exhausted.
type Chunker interface {
	Next() (Chunk, error)
}

// Options configures chunk boundaries. Kind selects the algorithm; Min/Avg/Max
// apply only to CDC and take the package defaults when all three are zero.
type Options struct {
	Kind ChunkKind
	Size int // FIXED: exact chunk size
	Min  int // CDC: minimum chunk size
	Avg  int // CDC: target average chunk size
	Max  int // CDC: maximum chunk size
}

type ChunkKind int

const (
	KindCDC ChunkKind = iota
	KindFixed
)

// New constructs a Chunker for r per opts.
func New(r io.Reader, opts Options) (Chunker, error) {
	switch opts.Kind {
	case KindFixed:
		if opts.Size <= 0 {
			return nil, errors.New("chunker: FIXED requires size > 0")
		}
		return newFixedChunker(r, opts.Size), nil
	default:
		min, avg, max := opts.Min, opts.Avg, opts.Max
		if min == 0 && avg == 0 && max == 0 {
			min, avg, max = DefaultMin, DefaultAvg, DefaultMax
		}
		if !(0 < min && min < avg && avg < max) {
			return nil, ErrInvalidBounds
		}
		return newCDCChunker(r, min, avg, max), nil
	}
}

// ChunkStream drains a Chunker into a slice, for callers that don't need
// streaming backpressure (e.g. small files, tests).
func ChunkStream(r io.Reader, opts Options) ([]Chunk, error) {
	c, err := New(r, opts)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	for {
		ch, err := c.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
}
