package api

import (
	"time"

	"nasferry/internal/records"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FileRecord describes a file record in a transport-friendly format.
type FileRecord struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	RemotePath         string   `json:"remotePath"`
	CurrentPath        string   `json:"currentPath"`
	Size               int64    `json:"size"`
	ModifiedTime       string   `json:"modifiedTime"`
	FetchedAt          string   `json:"fetchedAt,omitempty"`
	IsDir              bool     `json:"isDir"`
	FileType           string   `json:"fileType"`
	Status             string   `json:"status"`
	RoutingAttempts    int      `json:"routingAttempts"`
	LastRoutingAttempt string   `json:"lastRoutingAttempt,omitempty"`
	ErrorMessage       string   `json:"errorMessage,omitempty"`
	Routing            *Routing `json:"routing,omitempty"`
	FileHash           string   `json:"fileHash,omitempty"`
	HashAlgorithm      string   `json:"hashAlgorithm,omitempty"`
	CreatedAt          string   `json:"createdAt,omitempty"`
	UpdatedAt          string   `json:"updatedAt,omitempty"`
}

// Routing mirrors the routing outcome stored on a record.
type Routing struct {
	ShowName   string  `json:"showName,omitempty"`
	ShowID     int64   `json:"showId,omitempty"`
	Season     *int    `json:"season,omitempty"`
	Episode    *int    `json:"episode,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// FileList is a page of search results.
type FileList struct {
	Files    []FileRecord `json:"files"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// StatusUpdate is the PATCH body for a manual status override.
type StatusUpdate struct {
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`
}

// HashResult reports a hash calculation.
type HashResult struct {
	ID        int64  `json:"id"`
	Algorithm string `json:"algorithm"`
	Found     bool   `json:"found"`
	Value     string `json:"value,omitempty"`
	Cached    bool   `json:"cached"`
}

// Health reports API liveness and store reachability.
type Health struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Detail string `json:"detail,omitempty"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// FromRecord converts a record to its DTO.
func FromRecord(rec *records.FileRecord) FileRecord {
	out := FileRecord{
		ID:                 rec.ID,
		Name:               rec.Name,
		RemotePath:         rec.RemotePath,
		CurrentPath:        rec.CurrentPath,
		Size:               rec.Size,
		ModifiedTime:       formatTime(rec.ModTime),
		FetchedAt:          formatTime(rec.FetchedAt),
		IsDir:              rec.IsDir,
		FileType:           string(rec.FileType()),
		Status:             string(rec.Status),
		RoutingAttempts:    rec.RoutingAttempts,
		LastRoutingAttempt: formatTime(rec.LastRoutingAttempt),
		ErrorMessage:       rec.ErrorMessage,
		FileHash:           rec.FileHash,
		HashAlgorithm:      string(rec.HashAlgorithm),
		CreatedAt:          formatTime(rec.CreatedAt),
		UpdatedAt:          formatTime(rec.UpdatedAt),
	}
	r := rec.Routing
	if r.ShowName != "" || r.ShowID != 0 || r.Season != nil || r.Episode != nil {
		out.Routing = &Routing{
			ShowName:   r.ShowName,
			ShowID:     r.ShowID,
			Season:     r.Season,
			Episode:    r.Episode,
			Confidence: r.Confidence,
			Reasoning:  r.Reasoning,
		}
	}
	return out
}

// FromRecords converts a slice, never returning nil.
func FromRecords(recs []*records.FileRecord) []FileRecord {
	out := make([]FileRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
