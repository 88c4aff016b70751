// Package format provides shared binary header utilities for the engine's
// on-disk file formats (modification journal, dirty bitmaps). MagicChunkIndex
// is defined here, but the bbolt-backed chunk index does not write this
// header.
package format

import (
	"bytes"
	"errors"
)

// Header layout (5 bytes):
//
//	magic   (4 bytes, ASCII, e.g. "CIDX")
//	version (1 byte)
const (
	HeaderSize = 5

	MagicChunkIndex = "CIDX"
	MagicJournal    = "JRNL"
	MagicBitmap     = "BMAP"
)

var (
	ErrHeaderTooSmall  = errors.New("header too small")
	ErrMagicMismatch   = errors.New("magic mismatch")
	ErrVersionMismatch = errors.New("version mismatch")
)

// Header represents the common 5-byte header shared by the engine's
// append-only and fixed-record on-disk formats.
type Header struct {
	Magic   [4]byte
	Version byte
}

// NewHeader builds a Header from a magic string (must be exactly 4 bytes)
// and a version.
func NewHeader(magic string, version byte) Header {
	var h Header
	copy(h.Magic[:], magic)
	h.Version = version
	return h
}

// Encode writes the header to a HeaderSize-byte array.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], h.Magic[:])
	buf[4] = h.Version
	return buf
}

// EncodeInto writes the header into the given buffer at offset 0.
// Returns the number of bytes written (always HeaderSize).
func (h Header) EncodeInto(buf []byte) int {
	copy(buf[0:4], h.Magic[:])
	buf[4] = h.Version
	return HeaderSize
}

// Decode reads a header from the given buffer.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	var h Header
	copy(h.Magic[:], buf[0:4])
	h.Version = buf[4]
	return h, nil
}

// DecodeAndValidate reads a header and validates its magic and version.
func DecodeAndValidate(buf []byte, expectedMagic string, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if !bytes.Equal(h.Magic[:], []byte(expectedMagic)) {
		return Header{}, ErrMagicMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}
