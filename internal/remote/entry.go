package remote

import (
	"path"
	"time"
)

// Entry is one item observed in a remote listing. Entries have no identity
// beyond their path; they are written into a snapshot or converted into a
// file record and otherwise discarded.
type Entry struct {
	Name      string
	Path      string
	Size      int64
	ModTime   time.Time
	IsDir     bool
	FetchedAt time.Time
}

// NewEntry builds an entry for name inside dir. Modification times are kept at
// second resolution in UTC so snapshot keys compare equal across listings and
// storage round-trips.
func NewEntry(dir, name string, size int64, modTime time.Time, isDir bool, fetchedAt time.Time) Entry {
	return Entry{
		Name:      name,
		Path:      path.Join(dir, name),
		Size:      size,
		ModTime:   modTime.UTC().Truncate(time.Second),
		IsDir:     isDir,
		FetchedAt: fetchedAt.UTC(),
	}
}
