// Package memory is the in-process backend used by tests and dry runs. It
// holds everything in maps guarded by one mutex and returns clones so callers
// never share state with the store.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/shows"
	"nasferry/internal/snapshot"
)

// Store is the in-memory backend.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	files     map[int64]*records.FileRecord
	byRemote  map[string]int64
	snapshots map[string][]remote.Entry
	shows     map[int64]*shows.Show
	episodes  map[int64][]shows.Episode
	now       func() time.Time
}

var (
	_ records.Store  = (*Store)(nil)
	_ shows.Registry = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		files:     make(map[int64]*records.FileRecord),
		byRemote:  make(map[string]int64),
		snapshots: make(map[string][]remote.Entry),
		shows:     make(map[int64]*shows.Show),
		episodes:  make(map[int64][]shows.Episode),
		now:       time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// UpsertDownloadedFile inserts rec or merges it into the record with the same
// remote path.
func (s *Store) UpsertDownloadedFile(ctx context.Context, rec *records.FileRecord) (*records.FileRecord, error) {
	out, err := s.UpsertDownloadedFiles(ctx, []*records.FileRecord{rec})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpsertDownloadedFiles upserts recs atomically.
func (s *Store) UpsertDownloadedFiles(ctx context.Context, recs []*records.FileRecord) ([]*records.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(recs)
}

func (s *Store) upsertLocked(recs []*records.FileRecord) ([]*records.FileRecord, error) {
	for _, rec := range recs {
		if rec == nil {
			return nil, errors.New("record is nil")
		}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	now := s.now()
	out := make([]*records.FileRecord, 0, len(recs))
	for _, rec := range recs {
		var existing *records.FileRecord
		if id, ok := s.byRemote[rec.RemotePath]; ok {
			existing = s.files[id]
		}
		merged := records.MergeUpsert(existing, rec, now)
		if merged.ID == 0 {
			s.nextID++
			merged.ID = s.nextID
		}
		merged.ClearHashCache()
		s.files[merged.ID] = merged
		s.byRemote[merged.RemotePath] = merged.ID
		out = append(out, merged.Clone())
	}
	return out, nil
}

// GetDownloadedFilesByStatus lists records in status ordered by id.
func (s *Store) GetDownloadedFilesByStatus(ctx context.Context, status records.Status) ([]*records.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*records.FileRecord
	for _, rec := range s.sortedLocked() {
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// GetDownloadedFileByRemotePath returns the record for remotePath, if any.
func (s *Store) GetDownloadedFileByRemotePath(ctx context.Context, remotePath string) (*records.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byRemote[remotePath]; ok {
		return s.files[id].Clone(), nil
	}
	return nil, nil
}

// GetDownloadedFileByID returns the record with id, if any.
func (s *Store) GetDownloadedFileByID(ctx context.Context, id int64) (*records.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[id].Clone(), nil
}

// UpdateDownloadedFileLocation records a move of the file to newPath.
func (s *Store) UpdateDownloadedFileLocation(ctx context.Context, id int64, newPath string, status records.Status, at time.Time) error {
	if _, ok := records.ParseStatus(string(status)); !ok {
		return fmt.Errorf("%w: unknown status %q", records.ErrInvalidRecord, status)
	}
	if status == records.StatusRouted && newPath == "" {
		return fmt.Errorf("%w: routed record requires a current path", records.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if newPath == rec.RemotePath {
		return fmt.Errorf("%w: current path must differ from remote path %q", records.ErrInvalidRecord, newPath)
	}
	rec.CurrentPath = newPath
	rec.Status = status
	if status != records.StatusError {
		rec.ErrorMessage = ""
	}
	rec.UpdatedAt = at.UTC()
	return nil
}

// MarkDownloadedFileError moves the record to ERROR with message.
func (s *Store) MarkDownloadedFileError(ctx context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	rec.Status = records.StatusError
	rec.ErrorMessage = message
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// UpdateDownloadedFileStatus applies a manual status override.
func (s *Store) UpdateDownloadedFileStatus(ctx context.Context, id int64, status records.Status, errorMessage *string) error {
	if _, ok := records.ParseStatus(string(status)); !ok {
		return fmt.Errorf("%w: unknown status %q", records.ErrInvalidRecord, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if status == records.StatusRouted && rec.CurrentPath == "" {
		return fmt.Errorf("%w: routed record requires a current path", records.ErrInvalidRecord)
	}
	rec.Status = status
	rec.ErrorMessage = ""
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// MarkDownloadedFileProcessing claims a DOWNLOADED or ERROR record for routing.
func (s *Store) MarkDownloadedFileProcessing(ctx context.Context, id int64, at time.Time) (*records.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if err := rec.MarkProcessing(at); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// UpdateDownloadedFileRouting stores the routing outcome.
func (s *Store) UpdateDownloadedFileRouting(ctx context.Context, id int64, routing records.Routing) error {
	if err := routing.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	rec.Routing = routing
	rec.Routing.Season = copyInt(routing.Season)
	rec.Routing.Episode = copyInt(routing.Episode)
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// CompleteDownloadedFileRouting records a finished move of a PROCESSING
// record: routing fields, current path and ROUTED are written together.
func (s *Store) CompleteDownloadedFileRouting(ctx context.Context, id int64, newPath string, routing records.Routing, at time.Time) error {
	if err := routing.Validate(); err != nil {
		return err
	}
	if newPath == "" {
		return fmt.Errorf("%w: routed record requires a current path", records.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if rec.Status != records.StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", records.ErrInvalidTransition, rec.Status, records.StatusRouted)
	}
	if newPath == rec.RemotePath {
		return fmt.Errorf("%w: current path must differ from remote path %q", records.ErrInvalidRecord, newPath)
	}
	rec.Routing = routing
	rec.Routing.Season = copyInt(routing.Season)
	rec.Routing.Episode = copyInt(routing.Episode)
	rec.CurrentPath = newPath
	rec.Status = records.StatusRouted
	rec.ErrorMessage = ""
	rec.UpdatedAt = at.UTC()
	return nil
}

// UpdateDownloadedFileHash stores a computed content hash.
func (s *Store) UpdateDownloadedFileHash(ctx context.Context, id int64, value string, algorithm records.HashAlgorithm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	rec.FileHash = value
	rec.HashAlgorithm = algorithm
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// SearchDownloadedFiles filters, sorts, and pages records.
func (s *Store) SearchDownloadedFiles(ctx context.Context, params records.SearchParams) ([]*records.FileRecord, int, error) {
	params = params.Normalize()
	query := strings.ToLower(params.Query)
	s.mu.Lock()
	var matched []*records.FileRecord
	for _, rec := range s.files {
		if params.Status != "" && rec.Status != params.Status {
			continue
		}
		if !params.MatchesFileType(rec.Name, rec.IsDir) {
			continue
		}
		if params.ShowID != 0 && rec.Routing.ShowID != params.ShowID {
			continue
		}
		if query != "" && !matchesQuery(rec, query) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(matched, func(a, b *records.FileRecord) int {
		c := compareBy(params.SortBy, a, b)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if params.SortOrder == "desc" {
			return -c
		}
		return c
	})
	total := len(matched)
	start := min(params.Offset(), total)
	end := min(start+params.PageSize, total)
	return matched[start:end], total, nil
}

func matchesQuery(rec *records.FileRecord, query string) bool {
	for _, field := range []string{rec.Name, rec.RemotePath, rec.CurrentPath, rec.Routing.ShowName} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func compareBy(column string, a, b *records.FileRecord) int {
	switch column {
	case "name":
		return cmp.Compare(a.Name, b.Name)
	case "size":
		return cmp.Compare(a.Size, b.Size)
	case "modified_time":
		return a.ModTime.Compare(b.ModTime)
	case "fetched_at":
		return a.FetchedAt.Compare(b.FetchedAt)
	case "status":
		return cmp.Compare(a.Status, b.Status)
	case "show_name":
		return cmp.Compare(a.Routing.ShowName, b.Routing.ShowName)
	default:
		return cmp.Compare(a.ID, b.ID)
	}
}

// ReplaceSnapshot swaps the stored snapshot for root with entries.
func (s *Store) ReplaceSnapshot(ctx context.Context, root string, entries []remote.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[root] = dedupe(nil, entries)
	return nil
}

// InsertSnapshot adds entries to the stored snapshot for root.
func (s *Store) InsertSnapshot(ctx context.Context, root string, entries []remote.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[root] = dedupe(s.snapshots[root], entries)
	return nil
}

// DiffSnapshot returns the incoming entries absent from root's stored snapshot.
func (s *Store) DiffSnapshot(ctx context.Context, root string, incoming []remote.Entry) ([]remote.Entry, error) {
	s.mu.Lock()
	previous := snapshot.NewSet(s.snapshots[root])
	s.mu.Unlock()
	return snapshot.DiffSet(incoming, previous), nil
}

// ListSnapshot returns root's stored snapshot ordered by path.
func (s *Store) ListSnapshot(ctx context.Context, root string) ([]remote.Entry, error) {
	s.mu.Lock()
	out := append([]remote.Entry(nil), s.snapshots[root]...)
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b remote.Entry) int { return cmp.Compare(a.Path, b.Path) })
	return out, nil
}

// CommitSync writes a run's snapshot and completed records atomically.
func (s *Store) CommitSync(ctx context.Context, batch records.SyncBatch) ([]*records.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.upsertLocked(batch.Files)
	if err != nil {
		return nil, fmt.Errorf("commit sync: %w", err)
	}
	if batch.ReplaceSnapshot {
		s.snapshots[batch.Root] = dedupe(nil, batch.Snapshot)
	}
	return out, nil
}

func (s *Store) lookupLocked(id int64) (*records.FileRecord, error) {
	rec, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", records.ErrNotFound, id)
	}
	return rec, nil
}

func (s *Store) sortedLocked() []*records.FileRecord {
	out := make([]*records.FileRecord, 0, len(s.files))
	for _, rec := range s.files {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *records.FileRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func dedupe(existing, entries []remote.Entry) []remote.Entry {
	seen := snapshot.NewSet(existing)
	out := append([]remote.Entry(nil), existing...)
	for _, entry := range entries {
		if seen.Contains(entry) {
			continue
		}
		seen[snapshot.KeyOf(entry)] = struct{}{}
		out = append(out, entry)
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
