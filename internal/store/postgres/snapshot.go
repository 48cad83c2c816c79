package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/snapshot"
)

// snapshotColumns holds entries as parallel arrays for unnest.
type snapshotColumns struct {
	paths    []string
	names    []string
	sizes    []int64
	modTimes []int64
	dirs     []bool
	fetched  []time.Time
}

func columnsOf(entries []remote.Entry) snapshotColumns {
	cols := snapshotColumns{
		paths:    make([]string, len(entries)),
		names:    make([]string, len(entries)),
		sizes:    make([]int64, len(entries)),
		modTimes: make([]int64, len(entries)),
		dirs:     make([]bool, len(entries)),
		fetched:  make([]time.Time, len(entries)),
	}
	for i, entry := range entries {
		key := snapshot.KeyOf(entry)
		cols.paths[i] = key.Path
		cols.names[i] = key.Name
		cols.sizes[i] = key.Size
		cols.modTimes[i] = key.ModTime
		cols.dirs[i] = key.IsDir
		cols.fetched[i] = entry.FetchedAt.UTC()
	}
	return cols
}

// ReplaceSnapshot swaps the stored snapshot for root with entries.
func (s *Store) ReplaceSnapshot(ctx context.Context, root string, entries []remote.Entry) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		return replaceSnapshot(ctx, tx, root, entries)
	})
}

// InsertSnapshot adds entries to the stored snapshot for root.
func (s *Store) InsertSnapshot(ctx context.Context, root string, entries []remote.Entry) error {
	return insertSnapshot(ctx, s.pool, root, entries)
}

// DiffSnapshot returns the incoming entries absent from root's stored
// snapshot, computed server side.
func (s *Store) DiffSnapshot(ctx context.Context, root string, incoming []remote.Entry) ([]remote.Entry, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	cols := columnsOf(incoming)
	rows, err := s.pool.Query(ctx,
		`SELECT i.ord
         FROM unnest($2::text[], $3::text[], $4::bigint[], $5::bigint[], $6::boolean[])
              WITH ORDINALITY AS i(path, name, size, modified_time, is_dir, ord)
         WHERE NOT EXISTS (
             SELECT 1 FROM remote_snapshot s
             WHERE s.root = $1 AND s.path = i.path AND s.name = i.name AND s.size = i.size
               AND s.modified_time = i.modified_time AND s.is_dir = i.is_dir
         )
         ORDER BY i.ord`,
		root, cols.paths, cols.names, cols.sizes, cols.modTimes, cols.dirs,
	)
	if err != nil {
		return nil, fmt.Errorf("diff snapshot: %w", err)
	}
	ords, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan diff: %w", err)
	}
	candidates := make([]remote.Entry, 0, len(ords))
	for _, ord := range ords {
		candidates = append(candidates, incoming[ord-1])
	}
	return snapshot.Diff(candidates, nil), nil
}

// ListSnapshot returns root's stored snapshot ordered by path.
func (s *Store) ListSnapshot(ctx context.Context, root string) ([]remote.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, name, size, modified_time, is_dir, fetched_at FROM remote_snapshot WHERE root = $1 ORDER BY path, modified_time`,
		root,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	defer rows.Close()
	var out []remote.Entry
	for rows.Next() {
		var (
			entry   remote.Entry
			modUnix int64
		)
		if err := rows.Scan(&entry.Path, &entry.Name, &entry.Size, &modUnix, &entry.IsDir, &entry.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		entry.ModTime = time.Unix(modUnix, 0).UTC()
		entry.FetchedAt = entry.FetchedAt.UTC()
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
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
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

func replaceSnapshot(ctx context.Context, tx pgx.Tx, root string, entries []remote.Entry) error {
	if _, err := tx.Exec(ctx, `DELETE FROM remote_snapshot WHERE root = $1`, root); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return insertSnapshot(ctx, tx, root, entries)
}

func insertSnapshot(ctx context.Context, q dbtx, root string, entries []remote.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	cols := columnsOf(entries)
	if _, err := q.Exec(ctx,
		`INSERT INTO remote_snapshot (root, path, name, size, modified_time, is_dir, fetched_at)
         SELECT $1, i.path, i.name, i.size, i.modified_time, i.is_dir, i.fetched_at
         FROM unnest($2::text[], $3::text[], $4::bigint[], $5::bigint[], $6::boolean[], $7::timestamptz[])
              AS i(path, name, size, modified_time, is_dir, fetched_at)
         ON CONFLICT DO NOTHING`,
		root, cols.paths, cols.names, cols.sizes, cols.modTimes, cols.dirs, cols.fetched,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}
