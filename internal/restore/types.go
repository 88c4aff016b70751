// Package restore implements the RestoreEngine: replaying a snapshot's
// FileRecords back onto disk by streaming their chunks from the content
// store in order.
package restore

// Options configures one restore run.
type Options struct {
	VerifyIntegrity    bool // recompute content_hash after reassembly and compare
	PreserveAttributes bool // apply recorded mtime after writing
	OverwriteExisting  bool // clobber files already present at the target path
	Concurrency        int  // worker pool size for per-file restoration; default 4
}

// FileOutcome reports the restore result for a single file.
type FileOutcome struct {
	Path string
	Err  error
}

// Result is the outcome of a completed restore run.
type Result struct {
	SnapshotID    string
	FilesRestored int
	FilesFailed   int
	BytesRestored int64
	Failures      []FileOutcome
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
