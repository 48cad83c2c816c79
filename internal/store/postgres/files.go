package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"nasferry/internal/records"
)

var _ records.Store = (*Store)(nil)

const recordColumns = "id, name, remote_path, current_path, size, modified_time, fetched_at, is_dir, status, routing_attempts, last_routing_attempt, error_message, show_name, season, episode, confidence, reasoning, show_id, file_hash, hash_algorithm, created_at, updated_at"

func scanRecord(row pgx.Row) (*records.FileRecord, error) {
	var (
		rec          records.FileRecord
		currentPath  *string
		status       string
		lastAttempt  *time.Time
		errorMessage *string
		showName     *string
		reasoning    *string
		showID       *int64
		fileHash     *string
		hashAlg      *string
	)
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.RemotePath, &currentPath, &rec.Size, &rec.ModTime, &rec.FetchedAt,
		&rec.IsDir, &status, &rec.RoutingAttempts, &lastAttempt, &errorMessage, &showName,
		&rec.Routing.Season, &rec.Routing.Episode, &rec.Routing.Confidence, &reasoning, &showID,
		&fileHash, &hashAlg, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.CurrentPath = deref(currentPath)
	rec.Status = records.Status(status)
	if lastAttempt != nil {
		rec.LastRoutingAttempt = lastAttempt.UTC()
	}
	rec.ErrorMessage = deref(errorMessage)
	rec.Routing.ShowName = deref(showName)
	rec.Routing.Reasoning = deref(reasoning)
	if showID != nil {
		rec.Routing.ShowID = *showID
	}
	rec.FileHash = deref(fileHash)
	rec.HashAlgorithm = records.HashAlgorithm(deref(hashAlg))
	rec.ModTime = rec.ModTime.UTC()
	rec.FetchedAt = rec.FetchedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*records.FileRecord, error) {
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

func getRecord(ctx context.Context, q dbtx, where string, arguments ...any) (*records.FileRecord, error) {
	rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+recordColumns+` FROM downloaded_files WHERE `+where, arguments...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func recordValues(rec *records.FileRecord) []any {
	return []any{
		rec.Name, rec.RemotePath, nullable(rec.CurrentPath), rec.Size, rec.ModTime.UTC(), rec.FetchedAt.UTC(),
		rec.IsDir, string(rec.Status), rec.RoutingAttempts, nullableTime(rec.LastRoutingAttempt),
		nullable(rec.ErrorMessage), nullable(rec.Routing.ShowName), rec.Routing.Season, rec.Routing.Episode,
		rec.Routing.Confidence, nullable(rec.Routing.Reasoning), nullableID(rec.Routing.ShowID),
		nullable(rec.FileHash), nullable(string(rec.HashAlgorithm)), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	}
}

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
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.upsertAll(ctx, tx, recs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) upsertAll(ctx context.Context, tx pgx.Tx, recs []*records.FileRecord) ([]*records.FileRecord, error) {
	now := s.now()
	out := make([]*records.FileRecord, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			return nil, errors.New("record is nil")
		}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		existing, err := getRecord(ctx, tx, "remote_path = $1 FOR UPDATE", rec.RemotePath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", rec.RemotePath, err)
		}
		merged := records.MergeUpsert(existing, rec, now)
		values := recordValues(merged)
		if merged.ID == 0 {
			err = tx.QueryRow(ctx,
				`INSERT INTO downloaded_files (`+strings.TrimPrefix(recordColumns, "id, ")+`)
                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
                 RETURNING id`,
				values...,
			).Scan(&merged.ID)
			if err != nil {
				return nil, fmt.Errorf("insert %s: %w", rec.RemotePath, err)
			}
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE downloaded_files
                 SET name = $1, remote_path = $2, current_path = $3, size = $4, modified_time = $5,
                     fetched_at = $6, is_dir = $7, status = $8, routing_attempts = $9,
                     last_routing_attempt = $10, error_message = $11, show_name = $12, season = $13,
                     episode = $14, confidence = $15, reasoning = $16, show_id = $17, file_hash = $18,
                     hash_algorithm = $19, created_at = $20, updated_at = $21
                 WHERE id = $22`,
				append(values, merged.ID)...,
			); err != nil {
				return nil, fmt.Errorf("update %s: %w", rec.RemotePath, err)
			}
		}
		out = append(out, merged)
	}
	return out, nil
}

// GetDownloadedFilesByStatus lists records in status, oldest first.
func (s *Store) GetDownloadedFilesByStatus(ctx context.Context, status records.Status) ([]*records.FileRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM downloaded_files WHERE status = $1 ORDER BY id`, string(status))
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
	rec, err := getRecord(ctx, s.pool, "remote_path = $1", remotePath)
	if err != nil {
		return nil, fmt.Errorf("get by remote path: %w", err)
	}
	return rec, nil
}

// GetDownloadedFileByID returns the record with id, if any.
func (s *Store) GetDownloadedFileByID(ctx context.Context, id int64) (*records.FileRecord, error) {
	rec, err := getRecord(ctx, s.pool, "id = $1", id)
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
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		rec, err := getRecord(ctx, tx, "id = $1 FOR UPDATE", id)
		if err != nil {
			return fmt.Errorf("load record %d: %w", id, err)
		}
		if rec == nil {
			return fmt.Errorf("%w: %d", records.ErrNotFound, id)
		}
		if newPath == rec.RemotePath {
			return fmt.Errorf("%w: current path must differ from remote path %q", records.ErrInvalidRecord, newPath)
		}
		errorMessage := nullable(rec.ErrorMessage)
		if status != records.StatusError {
			errorMessage = nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE downloaded_files SET current_path = $1, status = $2, error_message = $3, updated_at = $4 WHERE id = $5`,
			nullable(newPath), string(status), errorMessage, at.UTC(), id,
		); err != nil {
			return fmt.Errorf("update location: %w", err)
		}
		return nil
	})
}

// MarkDownloadedFileError moves the record to ERROR with message.
func (s *Store) MarkDownloadedFileError(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE downloaded_files SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(records.StatusError), message, s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return requireAffected(tag.RowsAffected(), id)
}

// UpdateDownloadedFileStatus applies a manual status override.
func (s *Store) UpdateDownloadedFileStatus(ctx context.Context, id int64, status records.Status, errorMessage *string) error {
	if _, ok := records.ParseStatus(string(status)); !ok {
		return fmt.Errorf("%w: unknown status %q", records.ErrInvalidRecord, status)
	}
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		rec, err := getRecord(ctx, tx, "id = $1 FOR UPDATE", id)
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
			message = nullable(*errorMessage)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE downloaded_files SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
			string(status), message, s.now().UTC(), id,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// MarkDownloadedFileProcessing claims a DOWNLOADED or ERROR record for routing.
func (s *Store) MarkDownloadedFileProcessing(ctx context.Context, id int64, at time.Time) (*records.FileRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE downloaded_files
         SET status = $1, routing_attempts = routing_attempts + 1, last_routing_attempt = $2, updated_at = $2
         WHERE id = $3 AND status = ANY($4)
         RETURNING `+recordColumns,
		string(records.StatusProcessing), at.UTC(), id,
		[]string{string(records.StatusDownloaded), string(records.StatusError)},
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	current, err := s.GetDownloadedFileByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %d", records.ErrNotFound, id)
	}
	return nil, fmt.Errorf("%w: %s -> %s", records.ErrInvalidTransition, current.Status, records.StatusProcessing)
}

// UpdateDownloadedFileRouting stores the routing outcome.
func (s *Store) UpdateDownloadedFileRouting(ctx context.Context, id int64, routing records.Routing) error {
	if err := routing.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE downloaded_files
         SET show_name = $1, season = $2, episode = $3, confidence = $4, reasoning = $5, show_id = $6, updated_at = $7
         WHERE id = $8`,
		nullable(routing.ShowName), routing.Season, routing.Episode, routing.Confidence,
		nullable(routing.Reasoning), nullableID(routing.ShowID), s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update routing: %w", err)
	}
	return requireAffected(tag.RowsAffected(), id)
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
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		rec, err := getRecord(ctx, tx, "id = $1 FOR UPDATE", id)
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
		if _, err := tx.Exec(ctx,
			`UPDATE downloaded_files
             SET show_name = $1, season = $2, episode = $3, confidence = $4, reasoning = $5, show_id = $6,
                 current_path = $7, status = $8, error_message = NULL, updated_at = $9
             WHERE id = $10`,
			nullable(routing.ShowName), routing.Season, routing.Episode, routing.Confidence,
			nullable(routing.Reasoning), nullableID(routing.ShowID),
			newPath, string(records.StatusRouted), at.UTC(), id,
		); err != nil {
			return fmt.Errorf("complete routing: %w", err)
		}
		return nil
	})
}

// UpdateDownloadedFileHash stores a computed content hash.
func (s *Store) UpdateDownloadedFileHash(ctx context.Context, id int64, value string, algorithm records.HashAlgorithm) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE downloaded_files SET file_hash = $1, hash_algorithm = $2, updated_at = $3 WHERE id = $4`,
		nullable(value), nullable(string(algorithm)), s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update hash: %w", err)
	}
	return requireAffected(tag.RowsAffected(), id)
}

// SearchDownloadedFiles filters, sorts, and pages records.
func (s *Store) SearchDownloadedFiles(ctx context.Context, params records.SearchParams) ([]*records.FileRecord, int, error) {
	params = params.Normalize()
	var (
		clauses []string
		a       args
	)
	if params.Status != "" {
		clauses = append(clauses, "status = "+a.add(string(params.Status)))
	}
	if suffixes, negate := params.TypeSuffixes(); len(suffixes) > 0 {
		patterns := make([]string, len(suffixes))
		for i, suffix := range suffixes {
			patterns[i] = "%" + suffix
		}
		match := "lower(name) LIKE ANY(" + a.add(patterns) + ")"
		if negate {
			clauses = append(clauses, "(is_dir OR NOT "+match+")")
		} else {
			clauses = append(clauses, "(NOT is_dir AND "+match+")")
		}
	}
	if params.Query != "" {
		p := a.add(params.LikePattern())
		clauses = append(clauses, "(lower(name) LIKE "+p+" OR lower(remote_path) LIKE "+p+
			" OR lower(COALESCE(current_path, '')) LIKE "+p+" OR lower(COALESCE(show_name, '')) LIKE "+p+")")
	}
	if params.ShowID != 0 {
		clauses = append(clauses, "show_id = "+a.add(params.ShowID))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM downloaded_files`+where, a...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	order := fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id %s", records.SortColumns[params.SortBy], params.SortOrder, params.SortOrder)
	limit := " LIMIT " + a.add(params.PageSize) + " OFFSET " + a.add(params.Offset())
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM downloaded_files`+where+order+limit, a...)
	if err != nil {
		return nil, 0, fmt.Errorf("search records: %w", err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan records: %w", err)
	}
	return out, total, nil
}

func requireAffected(affected int64, id int64) error {
	if affected == 0 {
		return fmt.Errorf("%w: %d", records.ErrNotFound, id)
	}
	return nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func nullableTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	v := value.UTC()
	return &v
}

func nullableID(value int64) *int64 {
	if value == 0 {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
