package records

import (
	"fmt"
	"path"
	"strings"
	"time"

	"nasferry/internal/remote"
)

// Routing captures what the routing engine inferred for a file. ShowID is a
// weak reference to the metadata registry's show (its TMDB id); zero means
// unknown.
type Routing struct {
	ShowName   string
	Season     *int
	Episode    *int
	Confidence float64
	Reasoning  string
	ShowID     int64
}

// FileRecord is the durable entity tracking one synchronised remote file or
// directory. A record is not safe for concurrent mutation; the routing engine
// serializes work per record id.
type FileRecord struct {
	ID                 int64
	Name               string
	RemotePath         string
	CurrentPath        string
	Size               int64
	ModTime            time.Time
	FetchedAt          time.Time
	IsDir              bool
	Status             Status
	RoutingAttempts    int
	LastRoutingAttempt time.Time
	ErrorMessage       string
	Routing            Routing
	FileHash           string
	HashAlgorithm      HashAlgorithm
	CreatedAt          time.Time
	UpdatedAt          time.Time

	hashes map[HashAlgorithm]cachedHash
}

// NewFileRecord builds a DOWNLOADED record for a completed transfer of entry
// to localPath.
func NewFileRecord(entry remote.Entry, localPath string) (*FileRecord, error) {
	rec := &FileRecord{
		Name:        entry.Name,
		RemotePath:  entry.Path,
		CurrentPath: localPath,
		Size:        entry.Size,
		ModTime:     entry.ModTime.UTC(),
		FetchedAt:   entry.FetchedAt.UTC(),
		IsDir:       entry.IsDir,
		Status:      StatusDownloaded,
	}
	if rec.Name == "" {
		rec.Name = path.Base(entry.Path)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate checks the record invariants.
func (r *FileRecord) Validate() error {
	if strings.TrimSpace(r.RemotePath) == "" {
		return fmt.Errorf("%w: remote path is required", ErrInvalidRecord)
	}
	if r.CurrentPath != "" && r.CurrentPath == r.RemotePath {
		return fmt.Errorf("%w: current path must differ from remote path %q", ErrInvalidRecord, r.RemotePath)
	}
	if r.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidRecord, r.Size)
	}
	if _, ok := statusSet[r.Status]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.Status == StatusRouted && r.CurrentPath == "" {
		return fmt.Errorf("%w: routed record requires a current path", ErrInvalidRecord)
	}
	return r.Routing.Validate()
}

// Validate checks the routing outcome invariants.
func (r Routing) Validate() error {
	if r.Season != nil && *r.Season < 0 {
		return fmt.Errorf("%w: negative season", ErrInvalidRecord)
	}
	if r.Episode != nil && *r.Episode < 0 {
		return fmt.Errorf("%w: negative episode", ErrInvalidRecord)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidRecord, r.Confidence)
	}
	return nil
}

// FileType derives the type from the record name.
func (r *FileRecord) FileType() FileType {
	if r.IsDir {
		return FileTypeUnknown
	}
	return DetectFileType(r.Name)
}

// IsMediaFile reports whether the record is a video, audio, or subtitle file.
func (r *FileRecord) IsMediaFile() bool {
	return r.FileType().IsMedia()
}

// CanBeRouted reports whether the routing engine should pick up the record.
func (r *FileRecord) CanBeRouted() bool {
	return r.IsMediaFile() && r.Status == StatusDownloaded
}

// CanRetryRouting reports whether a failed media record may re-enter routing.
func (r *FileRecord) CanRetryRouting() bool {
	return r.IsMediaFile() && r.Status == StatusError
}

// ResolvedPath is the on-disk location of the file: the current path once
// downloaded, otherwise the remote origin.
func (r *FileRecord) ResolvedPath() string {
	if r.CurrentPath != "" {
		return r.CurrentPath
	}
	return r.RemotePath
}

// Matches reports whether entry describes the same remote content this record
// was created from.
func (r *FileRecord) Matches(entry remote.Entry) bool {
	return r.RemotePath == entry.Path &&
		r.Size == entry.Size &&
		r.IsDir == entry.IsDir &&
		r.ModTime.Equal(entry.ModTime)
}

// MarkProcessing starts a routing attempt.
func (r *FileRecord) MarkProcessing(now time.Time) error {
	if err := checkTransition(r.Status, StatusProcessing); err != nil {
		return err
	}
	r.Status = StatusProcessing
	r.RoutingAttempts++
	r.LastRoutingAttempt = now.UTC()
	r.UpdatedAt = now.UTC()
	return nil
}

// MarkRouted completes a routing attempt at the library location dest.
func (r *FileRecord) MarkRouted(dest string, now time.Time) error {
	if err := checkTransition(r.Status, StatusRouted); err != nil {
		return err
	}
	if dest == "" || dest == r.RemotePath {
		return fmt.Errorf("%w: invalid routed path %q", ErrInvalidRecord, dest)
	}
	r.Status = StatusRouted
	r.CurrentPath = dest
	r.ErrorMessage = ""
	r.UpdatedAt = now.UTC()
	return nil
}

// MarkError fails the current routing attempt.
func (r *FileRecord) MarkError(message string, now time.Time) error {
	if err := checkTransition(r.Status, StatusError); err != nil {
		return err
	}
	r.Status = StatusError
	r.ErrorMessage = message
	r.UpdatedAt = now.UTC()
	return nil
}

// ResetStatus returns the record to DOWNLOADED from any state.
func (r *FileRecord) ResetStatus() {
	r.Status = StatusDownloaded
	r.ErrorMessage = ""
}

// MarkDeleted applies the terminal manual override.
func (r *FileRecord) MarkDeleted() {
	r.Status = StatusDeleted
}

// Clone returns a deep copy, hash cache included.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Routing.Season = cloneInt(r.Routing.Season)
	clone.Routing.Episode = cloneInt(r.Routing.Episode)
	if r.hashes != nil {
		clone.hashes = make(map[HashAlgorithm]cachedHash, len(r.hashes))
		for k, v := range r.hashes {
			clone.hashes[k] = v
		}
	}
	return &clone
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
