// Package merkle builds a hash tree over a snapshot's files, grouped by
// directory, and diffs two trees to find what changed between snapshots.
package merkle

import (
	"sort"
	"strings"

	"dedupvault/internal/hasher"
)

// File is the minimal input Build needs from a FileRecord.
type File struct {
	Path        string // relative, forward-slash-normalized
	Size        int64
	ContentHash hasher.Digest
}

// Node is one entry in the tree: either a file leaf or a directory with
// sorted children.
type Node struct {
	Name     string
	IsDir    bool
	Hash     hasher.Digest
	Size     int64
	Children map[string]*Node
}

// Build groups files by directory and computes a deterministic root hash.
// Directory hashes fold over their children sorted by name:
// H(concat(childName || 0x00 || childHash)).
func Build(files []File) *Node {
	root := &Node{Name: "", IsDir: true, Children: map[string]*Node{}}
	for _, f := range files {
		insert(root, strings.Split(f.Path, "/"), f)
	}
	hashDir(root)
	return root
}

func insert(dir *Node, segments []string, f File) {
	name := segments[0]
	if len(segments) == 1 {
		dir.Children[name] = &Node{Name: name, IsDir: false, Hash: f.ContentHash, Size: f.Size}
		return
	}
	child, ok := dir.Children[name]
	if !ok {
		child = &Node{Name: name, IsDir: true, Children: map[string]*Node{}}
		dir.Children[name] = child
	}
	insert(child, segments[1:], f)
}

// hashDir computes Hash and Size bottom-up for dir and all its descendants.
func hashDir(dir *Node) {
	names := sortedNames(dir.Children)

	h := hasher.New()
	var total int64
	for _, name := range names {
		child := dir.Children[name]
		if child.IsDir {
			hashDir(child)
		}
		total += child.Size
		h.Update([]byte(child.Name))
		h.Update([]byte{0x00})
		h.Update(child.Hash[:])
	}
	dir.Hash = h.Sum()
	dir.Size = total
}

func sortedNames(children map[string]*Node) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DiffKind classifies one path's change between two trees.
type DiffKind int

const (
	Added DiffKind = iota
	Deleted
	Modified
)

func (k DiffKind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Deleted:
		return "DELETED"
	case Modified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// DiffEntry is one changed path between an old and new tree.
type DiffEntry struct {
	Path string
	Kind DiffKind
}

// Diff walks old and new in lockstep, pruning subtrees whose hash is
// unchanged. Same-named entries whose type changed (file<->dir) report as
// a DELETED entry for the old type plus an ADDED entry for the new type.
func Diff(old, new *Node) []DiffEntry {
	var entries []DiffEntry
	diffNode(old, new, "", &entries)
	return entries
}

func diffNode(old, new *Node, prefix string, entries *[]DiffEntry) {
	if old != nil && new != nil && old.Hash == new.Hash && old.IsDir == new.IsDir {
		return // subtree unchanged
	}

	oldChildren := map[string]*Node{}
	if old != nil && old.IsDir {
		oldChildren = old.Children
	}
	newChildren := map[string]*Node{}
	if new != nil && new.IsDir {
		newChildren = new.Children
	}

	if (old == nil || !old.IsDir) && (new == nil || !new.IsDir) {
		// Both are file leaves (or absent): a direct leaf comparison.
		switch {
		case old == nil && new != nil:
			*entries = append(*entries, DiffEntry{Path: prefix, Kind: Added})
		case old != nil && new == nil:
			*entries = append(*entries, DiffEntry{Path: prefix, Kind: Deleted})
		case old != nil && new != nil && old.Hash != new.Hash:
			*entries = append(*entries, DiffEntry{Path: prefix, Kind: Modified})
		}
		return
	}

	if old != nil && new != nil && old.IsDir != new.IsDir {
		// Type change: report the whole old subtree deleted, whole new
		// subtree added.
		walkAll(old, prefix, Deleted, entries)
		walkAll(new, prefix, Added, entries)
		return
	}

	names := map[string]bool{}
	for name := range oldChildren {
		names[name] = true
	}
	for name := range newChildren {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		childPath := name
		if prefix != "" {
			childPath = prefix + "/" + name
		}
		diffNode(oldChildren[name], newChildren[name], childPath, entries)
	}
}

// walkAll emits kind for every file leaf under node (node may itself be a
// leaf), used when a whole subtree appears or disappears.
func walkAll(node *Node, prefix string, kind DiffKind, entries *[]DiffEntry) {
	if node == nil {
		return
	}
	if !node.IsDir {
		*entries = append(*entries, DiffEntry{Path: prefix, Kind: kind})
		return
	}
	for _, name := range sortedNames(node.Children) {
		childPath := name
		if prefix != "" {
			childPath = prefix + "/" + name
		}
		walkAll(node.Children[name], childPath, kind, entries)
	}
}
