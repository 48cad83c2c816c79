package testsupport

import (
	"context"
	"path"
	"path/filepath"
	"testing"
	"time"

	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/store/sqlite"
)

// MustOpenStore opens a SQLite store in a temp directory and registers cleanup.
func MustOpenStore(t testing.TB) *sqlite.Store {
	t.Helper()

	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "nasferry.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewRecord builds a DOWNLOADED record for remotePath landed in /incoming.
func NewRecord(t testing.TB, remotePath string) *records.FileRecord {
	t.Helper()

	mod := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := remote.NewEntry(path.Dir(remotePath), path.Base(remotePath), 1024, mod, false, mod)
	rec, err := records.NewFileRecord(entry, path.Join("/incoming", path.Base(remotePath)))
	if err != nil {
		t.Fatalf("records.NewFileRecord: %v", err)
	}
	return rec
}
