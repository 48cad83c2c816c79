package records

import (
	"context"
	"strings"
	"time"

	"nasferry/internal/remote"
)

// Store is the persistence contract every backend implements. Lookups that
// find nothing return (nil, nil). The pipeline never branches on backend type.
type Store interface {
	UpsertDownloadedFile(ctx context.Context, rec *FileRecord) (*FileRecord, error)
	UpsertDownloadedFiles(ctx context.Context, recs []*FileRecord) ([]*FileRecord, error)
	GetDownloadedFilesByStatus(ctx context.Context, status Status) ([]*FileRecord, error)
	GetDownloadedFileByRemotePath(ctx context.Context, remotePath string) (*FileRecord, error)
	GetDownloadedFileByID(ctx context.Context, id int64) (*FileRecord, error)
	UpdateDownloadedFileLocation(ctx context.Context, id int64, newPath string, status Status, at time.Time) error
	MarkDownloadedFileError(ctx context.Context, id int64, message string) error
	// UpdateDownloadedFileStatus is the manual override. A nil errorMessage
	// clears the stored message.
	UpdateDownloadedFileStatus(ctx context.Context, id int64, status Status, errorMessage *string) error
	// MarkDownloadedFileProcessing atomically moves a DOWNLOADED or ERROR
	// record to PROCESSING, incrementing its attempt counter.
	MarkDownloadedFileProcessing(ctx context.Context, id int64, at time.Time) (*FileRecord, error)
	UpdateDownloadedFileRouting(ctx context.Context, id int64, routing Routing) error
	// CompleteDownloadedFileRouting writes the routing outcome, the new
	// location and ROUTED in one atomic step. The record must be PROCESSING.
	CompleteDownloadedFileRouting(ctx context.Context, id int64, newPath string, routing Routing, at time.Time) error
	UpdateDownloadedFileHash(ctx context.Context, id int64, value string, algorithm HashAlgorithm) error
	SearchDownloadedFiles(ctx context.Context, params SearchParams) ([]*FileRecord, int, error)

	ReplaceSnapshot(ctx context.Context, root string, entries []remote.Entry) error
	InsertSnapshot(ctx context.Context, root string, entries []remote.Entry) error
	DiffSnapshot(ctx context.Context, root string, incoming []remote.Entry) ([]remote.Entry, error)
	ListSnapshot(ctx context.Context, root string) ([]remote.Entry, error)
	// CommitSync persists one run's completed records and, when requested,
	// its next snapshot in a single atomic write.
	CommitSync(ctx context.Context, batch SyncBatch) ([]*FileRecord, error)

	Close() error
}

// SyncBatch is the unit of work committed at the end of a sync run.
type SyncBatch struct {
	Root            string
	ReplaceSnapshot bool
	Snapshot        []remote.Entry
	Files           []*FileRecord
}

// Search paging defaults.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// SortColumns maps accepted sort keys to the column every backend stores.
var SortColumns = map[string]string{
	"id":            "id",
	"name":          "name",
	"size":          "size",
	"modified_time": "modified_time",
	"fetched_at":    "fetched_at",
	"status":        "status",
	"show_name":     "show_name",
}

// SearchParams filters and pages SearchDownloadedFiles. Zero values mean
// "no filter".
type SearchParams struct {
	Status    Status
	FileType  FileType
	Query     string
	ShowID    int64
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Normalize fills defaults and clamps paging and sort options.
func (p SearchParams) Normalize() SearchParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	p.SortBy = strings.ToLower(strings.TrimSpace(p.SortBy))
	if _, ok := SortColumns[p.SortBy]; !ok {
		p.SortBy = "id"
	}
	p.SortOrder = strings.ToLower(strings.TrimSpace(p.SortOrder))
	if p.SortOrder != "asc" {
		p.SortOrder = "desc"
	}
	p.Query = strings.TrimSpace(p.Query)
	return p
}

// Offset returns the row offset for the current page.
func (p SearchParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// MatchesFileType reports whether name belongs to the requested type filter.
// Backends that cannot evaluate extensions in their query language use it
// directly; relational backends translate the same extension table to SQL.
func (p SearchParams) MatchesFileType(name string, isDir bool) bool {
	if p.FileType == "" {
		return true
	}
	if isDir {
		return p.FileType == FileTypeUnknown
	}
	return DetectFileType(name) == p.FileType
}

// LikePattern returns the query as a case-insensitive substring pattern with
// LIKE metacharacters escaped by a backslash.
func (p SearchParams) LikePattern() string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(p.Query))
	return "%" + escaped + "%"
}

// TypeSuffixes returns the lowercase filename suffixes that select the
// requested type. For FileTypeUnknown it returns every known extension and
// negate is true: a row matches when it is a directory or has none of them.
func (p SearchParams) TypeSuffixes() (suffixes []string, negate bool) {
	if p.FileType == "" {
		return nil, false
	}
	if p.FileType == FileTypeUnknown {
		return KnownExtensions(), true
	}
	return p.FileType.Extensions(), false
}
