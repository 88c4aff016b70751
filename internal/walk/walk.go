// Package walk scans a source directory tree into an ordered list of
// regular files, honoring symlink strategy, hidden-file, depth, and
// exclude-pattern configuration for the BackupEngine.
package walk

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"dedupvault/internal/vaulterr"
)

// SymlinkStrategy controls how a walk treats symbolic links.
type SymlinkStrategy int

const (
	// Record a symlink as a metadata-only entry without following it.
	Record SymlinkStrategy = iota
	// Follow a symlink and walk/read through its target.
	Follow
	// Skip a symlink entirely.
	Skip
)

// Options configures a walk.
type Options struct {
	SymlinkStrategy SymlinkStrategy
	IncludeHidden   bool
	MaxDepth        int // 0 means unlimited
	ExcludePatterns []string
}

// Entry is one discovered filesystem entry, relative to the walk root.
type Entry struct {
	Path    string // forward-slash-normalized, relative to root
	AbsPath string
	IsDir   bool
	IsLink  bool
	Size    int64
	Mtime   int64 // unix nanoseconds
}

// Walk scans root and returns every matching entry, sorted by path.
func Walk(root string, opts Options) ([]Entry, error) {
	var entries []Entry

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if !opts.IncludeHidden && isHidden(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if opts.MaxDepth > 0 && depthOf(rel) > opts.MaxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if matchesAny(rel, opts.ExcludePatterns) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		isLink := info.Mode()&os.ModeSymlink != 0
		if isLink {
			switch opts.SymlinkStrategy {
			case Skip:
				return nil
			case Record:
				entries = append(entries, Entry{Path: rel, AbsPath: path, IsLink: true})
				return nil
			case Follow:
				target, err := filepath.EvalSymlinks(path)
				if err != nil {
					return nil // broken symlink; skip rather than fail the whole walk
				}
				targetInfo, err := os.Stat(target)
				if err != nil {
					return nil
				}
				if targetInfo.IsDir() {
					return nil // directories followed lazily are out of scope; record nothing
				}
				entries = append(entries, Entry{
					Path: rel, AbsPath: target,
					Size: targetInfo.Size(), Mtime: targetInfo.ModTime().UnixNano(),
				})
				return nil
			}
		}

		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		entries = append(entries, Entry{
			Path: rel, AbsPath: path,
			Size: info.Size(), Mtime: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func isHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func depthOf(rel string) int {
	return strings.Count(rel, "/") + 1
}

func matchesAny(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
