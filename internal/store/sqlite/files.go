package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"nasferry/internal/records"
)

var _ records.Store = (*Store)(nil)

// UpsertDownloadedFile inserts rec or merges it into the row with the same
// remote path.
func (s *Store) UpsertDownloadedFile(ctx context.Context, rec *records.FileRecord) (*records.FileRecord, error) {
	out, err := s.UpsertDownloadedFiles(ctx, []*records.FileRecord{rec})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpsertDownloadedFiles upserts recs in one transaction.
func (s *Store) UpsertDownloadedFiles(ctx context.Context, recs []*records.FileRecord) ([]*records.FileRecord, error) {
	var out []*records.FileRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.upsertAll(ctx, tx, recs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) upsertAll(ctx context.Context, tx *sql.Tx, recs []*records.FileRecord) ([]*records.FileRecord, error) {
	now := s.now()
	out := make([]*records.FileRecord, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			return nil, errors.New("record is nil")
		}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		existing, err := getRecord(ctx, tx, "remote_path = ?", rec.RemotePath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", rec.RemotePath, err)
		}
		merged := records.MergeUpsert(existing, rec, now)
		if merged.ID == 0 {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO downloaded_files (`+strings.TrimPrefix(recordColumns, "id, ")+`)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				recordArgs(merged)...,
			)
			if err != nil {
				return nil, fmt.Errorf("insert %s: %w", rec.RemotePath, err)
			}
			if merged.ID, err = res.LastInsertId(); err != nil {
				return nil, fmt.Errorf("last insert id: %w", err)
			}
		} else {
			args := append(recordArgs(merged), merged.ID)
			if _, err := tx.ExecContext(ctx,
				`UPDATE downloaded_files
                 SET name = ?, remote_path = ?, current_path = ?, size = ?, modified_time = ?,
                     fetched_at = ?, is_dir = ?, status = ?, routing_attempts = ?,
                     last_routing_attempt = ?, error_message = ?, show_name = ?, season = ?,
                     episode = ?, confidence = ?, reasoning = ?, show_id = ?, file_hash = ?,
                     hash_algorithm = ?, created_at = ?, updated_at = ?
                 WHERE id = ?`,
				args...,
			); err != nil {
				return nil, fmt.Errorf("update %s: %w", rec.RemotePath, err)
			}
		}
		out = append(out, merged)
	}
	return out, nil
}

func getRecord(ctx context.Context, q querier, where string, args ...any) (*records.FileRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM downloaded_files WHERE `+where, args...)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetDownloadedFilesByStatus lists records in status, oldest first.
func (s *Store) GetDownloadedFilesByStatus(ctx context.Context, status records.Status) ([]*records.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM downloaded_files WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}

// GetDownloadedFileByRemotePath returns the record for remotePath, if any.
func (s *Store) GetDownloadedFileByRemotePath(ctx context.Context, remotePath string) (*records.FileRecord, error) {
	rec, err := getRecord(ctx, s.db, "remote_path = ?", remotePath)
	if err != nil {
		return nil, fmt.Errorf("get by remote path: %w", err)
	}
	return rec, nil
}

// GetDownloadedFileByID returns the record with id, if any.
func (s *Store) GetDownloadedFileByID(ctx context.Context, id int64) (*records.FileRecord, error) {
	rec, err := getRecord(ctx, s.db, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return rec, nil
}

// UpdateDownloadedFileLocation records a move of the file to newPath.
func (s *Store) UpdateDownloadedFileLocation(ctx context.Context, id int64, newPath string, status records.Status, at time.Time) error {
	if _, ok := records.ParseStatus(string(status)); !ok {
		return fmt.Errorf("%w: unknown status %q", records.ErrInvalidRecord, status)
	}
	if status == records.StatusRouted && newPath == "" {
		return fmt.Errorf("%w: routed record requires a current path", records.ErrInvalidRecord)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, "id = ?", id)
		if err != nil {
			return fmt.Errorf("load record %d: %w", id, err)
		}
		if rec == nil {
			return fmt.Errorf("%w: %d", records.ErrNotFound, id)
		}
		if newPath == rec.RemotePath {
			return fmt.Errorf("%w: current path must differ from remote path %q", records.ErrInvalidRecord, newPath)
		}
		errorMessage := nullableString(rec.ErrorMessage)
		if status != records.StatusError {
			errorMessage = nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE downloaded_files SET current_path = ?, status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			nullableString(newPath), string(status), errorMessage, formatTime(at), id,
		)
		if err != nil {
			return fmt.Errorf("update location: %w", err)
		}
		return nil
	})
}

// MarkDownloadedFileError moves the record to ERROR with message.
func (s *Store) MarkDownloadedFileError(ctx context.Context, id int64, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE downloaded_files SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(records.StatusError), message, formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return requireAffected(res, id)
}

// UpdateDownloadedFileStatus applies a manual status override.
func (s *Store) UpdateDownloadedFileStatus(ctx context.Context, id int64, status records.Status, errorMessage *string) error {
	if _, ok := records.ParseStatus(string(status)); !ok {
		return fmt.Errorf("%w: unknown status %q", records.ErrInvalidRecord, status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, "id = ?", id)
		if err != nil {
			return fmt.Errorf("load record %d: %w", id, err)
		}
		if rec == nil {
			return fmt.Errorf("%w: %d", records.ErrNotFound, id)
		}
		if status == records.StatusRouted && rec.CurrentPath == "" {
			return fmt.Errorf("%w: routed record requires a current path", records.ErrInvalidRecord)
		}
		var message any
		if errorMessage != nil {
			message = nullableString(*errorMessage)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE downloaded_files SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			string(status), message, formatTime(s.now()), id,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// MarkDownloadedFileProcessing claims a DOWNLOADED or ERROR record for routing.
func (s *Store) MarkDownloadedFileProcessing(ctx context.Context, id int64, at time.Time) (*records.FileRecord, error) {
	var out *records.FileRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE downloaded_files
             SET status = ?, routing_attempts = routing_attempts + 1, last_routing_attempt = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			string(records.StatusProcessing), formatTime(at), formatTime(at), id,
			string(records.StatusDownloaded), string(records.StatusError),
		)
		if err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rec, err := getRecord(ctx, tx, "id = ?", id)
		if err != nil {
			return fmt.Errorf("load record %d: %w", id, err)
		}
		if rec == nil {
			return fmt.Errorf("%w: %d", records.ErrNotFound, id)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s -> %s", records.ErrInvalidTransition, rec.Status, records.StatusProcessing)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateDownloadedFileRouting stores the routing outcome.
func (s *Store) UpdateDownloadedFileRouting(ctx context.Context, id int64, routing records.Routing) error {
	if err := routing.Validate(); err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE downloaded_files
         SET show_name = ?, season = ?, episode = ?, confidence = ?, reasoning = ?, show_id = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(routing.ShowName), nullableInt(routing.Season), nullableInt(routing.Episode),
		routing.Confidence, nullableString(routing.Reasoning), nullableID(routing.ShowID),
		formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update routing: %w", err)
	}
	return requireAffected(res, id)
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
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, "id = ?", id)
		if err != nil {
			return fmt.Errorf("load record %d: %w", id, err)
		}
		if rec == nil {
			return fmt.Errorf("%w: %d", records.ErrNotFound, id)
		}
		if rec.Status != records.StatusProcessing {
			return fmt.Errorf("%w: %s -> %s", records.ErrInvalidTransition, rec.Status, records.StatusRouted)
		}
		if newPath == rec.RemotePath {
			return fmt.Errorf("%w: current path must differ from remote path %q", records.ErrInvalidRecord, newPath)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE downloaded_files
             SET show_name = ?, season = ?, episode = ?, confidence = ?, reasoning = ?, show_id = ?,
                 current_path = ?, status = ?, error_message = NULL, updated_at = ?
             WHERE id = ?`,
			nullableString(routing.ShowName), nullableInt(routing.Season), nullableInt(routing.Episode),
			routing.Confidence, nullableString(routing.Reasoning), nullableID(routing.ShowID),
			newPath, string(records.StatusRouted), formatTime(at), id,
		)
		if err != nil {
			return fmt.Errorf("complete routing: %w", err)
		}
		return nil
	})
}

// UpdateDownloadedFileHash stores a computed content hash.
func (s *Store) UpdateDownloadedFileHash(ctx context.Context, id int64, value string, algorithm records.HashAlgorithm) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE downloaded_files SET file_hash = ?, hash_algorithm = ?, updated_at = ? WHERE id = ?`,
		nullableString(value), nullableString(string(algorithm)), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update hash: %w", err)
	}
	return requireAffected(res, id)
}

// SearchDownloadedFiles filters, sorts, and pages records.
func (s *Store) SearchDownloadedFiles(ctx context.Context, params records.SearchParams) ([]*records.FileRecord, int, error) {
	params = params.Normalize()
	var (
		clauses []string
		args    []any
	)
	if params.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(params.Status))
	}
	if suffixes, negate := params.TypeSuffixes(); len(suffixes) > 0 {
		likes := make([]string, len(suffixes))
		for i, suffix := range suffixes {
			likes[i] = "lower(name) LIKE ?"
			args = append(args, "%"+suffix)
		}
		if negate {
			clauses = append(clauses, "(is_dir = 1 OR NOT ("+strings.Join(likes, " OR ")+"))")
		} else {
			clauses = append(clauses, "(is_dir = 0 AND ("+strings.Join(likes, " OR ")+"))")
		}
	}
	if params.Query != "" {
		pattern := params.LikePattern()
		clauses = append(clauses, `(lower(name) LIKE ? ESCAPE '\' OR lower(remote_path) LIKE ? ESCAPE '\' OR lower(COALESCE(current_path, '')) LIKE ? ESCAPE '\' OR lower(COALESCE(show_name, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if params.ShowID != 0 {
		clauses = append(clauses, "show_id = ?")
		args = append(args, params.ShowID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM downloaded_files`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	order := fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT ? OFFSET ?", records.SortColumns[params.SortBy], params.SortOrder, params.SortOrder)
	pageArgs := append(append([]any(nil), args...), params.PageSize, params.Offset())
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM downloaded_files`+where+order, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search records: %w", err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan records: %w", err)
	}
	return out, total, nil
}

func requireAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", records.ErrNotFound, id)
	}
	return nil
}
