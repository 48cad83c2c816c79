package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"nasferry/internal/records"
)

const recordColumns = "id, name, remote_path, current_path, size, modified_time, fetched_at, is_dir, status, routing_attempts, last_routing_attempt, error_message, show_name, season, episode, confidence, reasoning, show_id, file_hash, hash_algorithm, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*records.FileRecord, error) {
	var (
		rec          records.FileRecord
		currentPath  sql.NullString
		modifiedRaw  string
		fetchedRaw   string
		isDir        int
		status       string
		lastAttempt  sql.NullString
		errorMessage sql.NullString
		showName     sql.NullString
		season       sql.NullInt64
		episode      sql.NullInt64
		reasoning    sql.NullString
		showID       sql.NullInt64
		fileHash     sql.NullString
		hashAlg      sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.RemotePath,
		&currentPath,
		&rec.Size,
		&modifiedRaw,
		&fetchedRaw,
		&isDir,
		&status,
		&rec.RoutingAttempts,
		&lastAttempt,
		&errorMessage,
		&showName,
		&season,
		&episode,
		&rec.Routing.Confidence,
		&reasoning,
		&showID,
		&fileHash,
		&hashAlg,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.CurrentPath = currentPath.String
	rec.IsDir = isDir != 0
	rec.Status = records.Status(status)
	rec.ErrorMessage = errorMessage.String
	rec.Routing.ShowName = showName.String
	rec.Routing.Season = nullIntPtr(season)
	rec.Routing.Episode = nullIntPtr(episode)
	rec.Routing.Reasoning = reasoning.String
	rec.Routing.ShowID = showID.Int64
	rec.FileHash = fileHash.String
	rec.HashAlgorithm = records.HashAlgorithm(hashAlg.String)
	rec.ModTime = parseTime(modifiedRaw)
	rec.FetchedAt = parseTime(fetchedRaw)
	rec.CreatedAt = parseTime(createdRaw)
	rec.UpdatedAt = parseTime(updatedRaw)
	if lastAttempt.Valid {
		rec.LastRoutingAttempt = parseTime(lastAttempt.String)
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*records.FileRecord, error) {
	defer rows.Close()
	var out []*records.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func recordArgs(rec *records.FileRecord) []any {
	return []any{
		rec.Name,
		rec.RemotePath,
		nullableString(rec.CurrentPath),
		rec.Size,
		formatTime(rec.ModTime),
		formatTime(rec.FetchedAt),
		boolToInt(rec.IsDir),
		string(rec.Status),
		rec.RoutingAttempts,
		nullableTime(rec.LastRoutingAttempt),
		nullableString(rec.ErrorMessage),
		nullableString(rec.Routing.ShowName),
		nullableInt(rec.Routing.Season),
		nullableInt(rec.Routing.Episode),
		rec.Routing.Confidence,
		nullableString(rec.Routing.Reasoning),
		nullableID(rec.Routing.ShowID),
		nullableString(rec.FileHash),
		nullableString(string(rec.HashAlgorithm)),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableID(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := parseTimeString(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
