package snapshot

import (
	"path"
	"strings"
	"time"

	"nasferry/internal/remote"
)

// Key is the composite identity of a snapshot entry.
type Key struct {
	Name    string
	Size    int64
	ModTime int64
	Path    string
	IsDir   bool
}

// KeyOf returns the composite key for entry. Modification times compare at
// second resolution.
func KeyOf(entry remote.Entry) Key {
	return Key{
		Name:    entry.Name,
		Size:    entry.Size,
		ModTime: entry.ModTime.UTC().Truncate(time.Second).Unix(),
		Path:    entry.Path,
		IsDir:   entry.IsDir,
	}
}

// Set is a snapshot indexed by key.
type Set map[Key]struct{}

// NewSet indexes entries.
func NewSet(entries []remote.Entry) Set {
	set := make(Set, len(entries))
	for _, entry := range entries {
		set[KeyOf(entry)] = struct{}{}
	}
	return set
}

// Contains reports whether entry's key is in the set.
func (s Set) Contains(entry remote.Entry) bool {
	_, ok := s[KeyOf(entry)]
	return ok
}

// Diff returns the entries of incoming whose key is absent from previous,
// preserving incoming order. Duplicate keys in incoming are reported once.
func Diff(incoming, previous []remote.Entry) []remote.Entry {
	return DiffSet(incoming, NewSet(previous))
}

// DiffSet is Diff against an already indexed previous snapshot.
func DiffSet(incoming []remote.Entry, previous Set) []remote.Entry {
	var out []remote.Entry
	seen := make(Set, len(incoming))
	for _, entry := range incoming {
		key := KeyOf(entry)
		if _, ok := previous[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// Next computes the snapshot to persist after an incremental run. Every
// incoming entry is kept except those in diffed whose own work, or any work
// beneath them, did not complete; excluded entries re-appear in the next
// diff and are retried.
func Next(incoming, diffed []remote.Entry, incomplete []string) []remote.Entry {
	if len(incomplete) == 0 {
		return append([]remote.Entry(nil), incoming...)
	}
	pending := NewSet(diffed)
	out := make([]remote.Entry, 0, len(incoming))
	for _, entry := range incoming {
		if pending.Contains(entry) && coversAny(entry, incomplete) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func coversAny(entry remote.Entry, paths []string) bool {
	root := path.Clean(entry.Path)
	for _, p := range paths {
		p = path.Clean(p)
		if p == root {
			return true
		}
		if entry.IsDir && strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}
