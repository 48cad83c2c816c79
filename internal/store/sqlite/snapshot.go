package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/snapshot"
)

// ReplaceSnapshot swaps the stored snapshot for root with entries.
func (s *Store) ReplaceSnapshot(ctx context.Context, root string, entries []remote.Entry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceSnapshot(ctx, tx, root, entries)
	})
}

// InsertSnapshot adds entries to the stored snapshot for root.
func (s *Store) InsertSnapshot(ctx context.Context, root string, entries []remote.Entry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertSnapshot(ctx, tx, root, entries)
	})
}

// DiffSnapshot returns the incoming entries absent from root's stored snapshot.
func (s *Store) DiffSnapshot(ctx context.Context, root string, incoming []remote.Entry) ([]remote.Entry, error) {
	previous, err := s.ListSnapshot(ctx, root)
	if err != nil {
		return nil, err
	}
	return snapshot.Diff(incoming, previous), nil
}

// ListSnapshot returns root's stored snapshot ordered by path.
func (s *Store) ListSnapshot(ctx context.Context, root string) ([]remote.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, name, size, modified_time, is_dir, fetched_at FROM remote_snapshot WHERE root = ? ORDER BY path, modified_time`,
		root,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	defer rows.Close()
	var out []remote.Entry
	for rows.Next() {
		var (
			entry      remote.Entry
			modUnix    int64
			isDir      int
			fetchedRaw string
		)
		if err := rows.Scan(&entry.Path, &entry.Name, &entry.Size, &modUnix, &isDir, &fetchedRaw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		entry.ModTime = time.Unix(modUnix, 0).UTC()
		entry.IsDir = isDir != 0
		entry.FetchedAt = parseTime(fetchedRaw)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return out, nil
}

// CommitSync writes a run's snapshot and completed records atomically.
func (s *Store) CommitSync(ctx context.Context, batch records.SyncBatch) ([]*records.FileRecord, error) {
	var out []*records.FileRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if batch.ReplaceSnapshot {
			if err := replaceSnapshot(ctx, tx, batch.Root, batch.Snapshot); err != nil {
				return err
			}
		}
		var err error
		out, err = s.upsertAll(ctx, tx, batch.Files)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("commit sync: %w", err)
	}
	return out, nil
}

func replaceSnapshot(ctx context.Context, tx *sql.Tx, root string, entries []remote.Entry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM remote_snapshot WHERE root = ?`, root); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return insertSnapshot(ctx, tx, root, entries)
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, root string, entries []remote.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO remote_snapshot (root, path, name, size, modified_time, is_dir, fetched_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()
	for _, entry := range entries {
		key := snapshot.KeyOf(entry)
		if _, err := stmt.ExecContext(ctx, root, key.Path, key.Name, key.Size, key.ModTime, boolToInt(key.IsDir), formatTime(entry.FetchedAt)); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", entry.Path, err)
		}
	}
	return nil
}
