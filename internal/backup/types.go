// Package backup implements the BackupEngine: orchestrating a directory
// walk, chunking, content-store writes, and snapshot finalization into a
// single cancellable run.
package backup

import (
	"time"

	"dedupvault/internal/chunker"
	"dedupvault/internal/walk"
)

// State is a BackupEngine run's position in its lifecycle.
type State int

const (
	Idle State = iota
	Scanning
	Chunking
	Finalizing
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Scanning:
		return "SCANNING"
	case Chunking:
		return "CHUNKING"
	case Finalizing:
		return "FINALIZING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Options configures one backup run.
type Options struct {
	Name          string
	Description   string
	Walk          walk.Options
	Chunker       chunker.Options
	Concurrency   int  // worker pool size for per-file processing; default 4
	VerifyOnWrite bool // re-read and re-verify each chunk immediately after Put
}

// Result is the outcome of a completed run. FilesProcessed counts only
// files that were rechunked in this run; files carried forward by
// reference from the parent snapshot are counted separately in
// FilesCarriedForward.
type Result struct {
	SnapshotID          string
	FilesProcessed      int
	FilesCarriedForward int
	FilesSkipped        int
	BytesProcessed      int64
	Elapsed             time.Duration
	State               State
}

// ProgressEvent reports incremental progress during a run: how many files
// and bytes of the run have been accounted for so far, and which file is
// currently being handled.
type ProgressEvent struct {
	FilesProcessed int
	TotalFiles     int
	BytesProcessed int64
	TotalBytes     int64
	CurrentFile    string
}

// ProgressSink receives progress events as a run executes. A nil sink
// receives no calls.
type ProgressSink func(ProgressEvent)
