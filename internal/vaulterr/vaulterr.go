// Package vaulterr classifies engine errors into the small set of codes
// callers across the HTTP/CLI/scheduling surfaces need to react to, without
// requiring every package to hand-roll its own error taxonomy.
//
// Components wrap errors with New where they know the class (for example
// ContentStore marks a digest mismatch as CorruptedChunk). Callers recover
// the Code with Classify and decide retry vs skip vs abort from it.
package vaulterr

import (
	"context"
	"errors"
)

// Code is one of the error classes surfaced to callers.
type Code int

const (
	Unknown Code = iota
	IOError
	CorruptedChunk
	NotFound
	InvalidArgument
	Cancelled
	AlreadyFinalized
)

func (c Code) String() string {
	switch c {
	case IOError:
		return "IO_ERROR"
	case CorruptedChunk:
		return "CORRUPTED_CHUNK"
	case NotFound:
		return "NOT_FOUND"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Cancelled:
		return "CANCELLED"
	case AlreadyFinalized:
		return "ALREADY_FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// classifier is implemented by sentinel-ish error types that know their own
// code. Packages that want precise classification without string matching
// implement this on a small wrapper type; see New below.
type classifier interface {
	VaultCode() Code
}

// codedError attaches a Code to a wrapped error while preserving errors.Is/As
// behavior via Unwrap.
type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string   { return e.err.Error() }
func (e *codedError) Unwrap() error   { return e.err }
func (e *codedError) VaultCode() Code { return e.code }

// New wraps err with an explicit Code, for packages that know precisely how
// an error should be classified (e.g. ContentStore knows a digest mismatch
// is always CorruptedChunk).
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// Classify inspects err and returns its Code. It checks, in order: explicit
// codedError wrapping, any wrapped error implementing VaultCode, and context
// cancellation/deadline, falling back to Unknown.
func Classify(err error) Code {
	if err == nil {
		return Unknown
	}

	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	var c classifier
	if errors.As(err, &c) {
		return c.VaultCode()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return IOError
	}

	return Unknown
}

// IsTransient reports whether the error class is worth retrying: IO_ERROR is
// transient, everything else (corruption, invariant violations, invalid
// arguments, cancellation) is not.
func IsTransient(err error) bool {
	return Classify(err) == IOError
}
