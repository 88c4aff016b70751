package changetracker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"dedupvault/internal/format"
	"dedupvault/internal/vaulterr"
)

// BlockSize is the dirty-tracking granularity: 4 KiB.
const BlockSize = 4096

const bitmapVersion = 1

// Bitmap tracks, per file, which 4 KiB blocks have been touched since the
// last snapshot.
type Bitmap struct {
	totalBlocks int64
	bits        []bool
}

// NewBitmap allocates a bitmap sized for a file of fileSize bytes.
func NewBitmap(fileSize int64) *Bitmap {
	total := (fileSize + BlockSize - 1) / BlockSize
	if total == 0 {
		total = 1
	}
	return &Bitmap{totalBlocks: total, bits: make([]bool, total)}
}

// MarkRange sets every block whose byte range intersects [offset,
// offset+length).
func (b *Bitmap) MarkRange(offset, length int64) {
	if length <= 0 {
		return
	}
	first := offset / BlockSize
	last := (offset + length - 1) / BlockSize
	if first < 0 {
		first = 0
	}
	if last >= b.totalBlocks {
		last = b.totalBlocks - 1
	}
	for i := first; i <= last; i++ {
		b.bits[i] = true
	}
}

// IsDirty reports whether block i is marked.
func (b *Bitmap) IsDirty(block int64) bool {
	if block < 0 || block >= b.totalBlocks {
		return false
	}
	return b.bits[block]
}

// AnyDirty reports whether any block is marked.
func (b *Bitmap) AnyDirty() bool {
	for _, v := range b.bits {
		if v {
			return true
		}
	}
	return false
}

// TotalBlocks returns the number of blocks the bitmap covers.
func (b *Bitmap) TotalBlocks() int64 {
	return b.totalBlocks
}

// Encode serializes the bitmap as a header, total_blocks, then a
// run-length encoding of (bit, len varint) pairs.
func (b *Bitmap) Encode() []byte {
	var buf bytes.Buffer
	header := format.NewHeader(format.MagicBitmap, bitmapVersion).Encode()
	buf.Write(header[:])

	var totalBuf [8]byte
	binary.BigEndian.PutUint64(totalBuf[:], uint64(b.totalBlocks))
	buf.Write(totalBuf[:])

	var varintBuf [binary.MaxVarintLen64]byte
	i := 0
	for i < len(b.bits) {
		bit := b.bits[i]
		run := int64(1)
		for i+int(run) < len(b.bits) && b.bits[i+int(run)] == bit {
			run++
		}
		var bitByte byte
		if bit {
			bitByte = 1
		}
		n := binary.PutUvarint(varintBuf[:], uint64(run))
		buf.WriteByte(bitByte)
		buf.Write(varintBuf[:n])
		i += int(run)
	}

	return buf.Bytes()
}

// DecodeBitmap parses bytes produced by Encode.
func DecodeBitmap(data []byte) (*Bitmap, error) {
	if len(data) < format.HeaderSize+8 {
		return nil, vaulterr.New(vaulterr.CorruptedChunk, fmt.Errorf("bitmap: truncated header"))
	}
	if _, err := format.DecodeAndValidate(data[:format.HeaderSize], format.MagicBitmap, bitmapVersion); err != nil {
		return nil, vaulterr.New(vaulterr.CorruptedChunk, err)
	}

	r := bytes.NewReader(data[format.HeaderSize:])
	var totalBuf [8]byte
	if _, err := io.ReadFull(r, totalBuf[:]); err != nil {
		return nil, vaulterr.New(vaulterr.CorruptedChunk, err)
	}
	total := int64(binary.BigEndian.Uint64(totalBuf[:]))

	bits := make([]bool, 0, total)
	for int64(len(bits)) < total {
		bitByte, err := r.ReadByte()
		if err != nil {
			return nil, vaulterr.New(vaulterr.CorruptedChunk, fmt.Errorf("bitmap: truncated run: %w", err))
		}
		run, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, vaulterr.New(vaulterr.CorruptedChunk, fmt.Errorf("bitmap: truncated run length: %w", err))
		}
		for j := uint64(0); j < run; j++ {
			bits = append(bits, bitByte == 1)
		}
	}

	return &Bitmap{totalBlocks: total, bits: bits}, nil
}
