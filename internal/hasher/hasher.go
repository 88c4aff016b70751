// Package hasher computes BLAKE3-256 digests over buffers, streams, and
// incremental byte sequences. It is the only place in the engine that knows
// the hash algorithm; every other package deals in Digest values.
package hasher

import (
	"encoding/hex"
	"errors"
	"io"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// errInvalidLength is returned by ParseDigest when the decoded bytes are not
// exactly Size long.
var errInvalidLength = errors.New("hasher: invalid digest length")

// Digest is a 32-byte BLAKE3 digest. Its textual form is lowercase hex.
type Digest [Size]byte

// String returns the lowercase hex representation of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest (never a valid content hash).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a lowercase hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != Size {
		return d, errInvalidLength
	}
	copy(d[:], b)
	return d, nil
}

// HashBuffer computes the digest of an in-memory buffer.
func HashBuffer(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// HashStream computes the digest of everything read from r.
func HashStream(r io.Reader) (Digest, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return h.Sum(), nil
}

// H is an incremental BLAKE3 hasher. It is not safe for concurrent use by
// multiple goroutines; independent H instances are independently safe.
type H struct {
	inner *blake3.Hasher
}

// New returns a fresh incremental hasher.
func New() *H {
	return &H{inner: blake3.New(Size, nil)}
}

// Write implements io.Writer, feeding bytes into the running digest. It
// never returns an error.
func (h *H) Write(p []byte) (int, error) {
	return h.inner.Write(p)
}

// Update feeds bytes into the running digest. Equivalent to Write but
// without the io.Writer error return.
func (h *H) Update(p []byte) {
	_, _ = h.inner.Write(p)
}

// Sum finalizes and returns the digest. The hasher may continue to be
// updated and summed again; each Sum reflects all bytes written so far.
func (h *H) Sum() Digest {
	var d Digest
	copy(d[:], h.inner.Sum(nil))
	return d
}
