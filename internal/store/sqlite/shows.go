package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nasferry/internal/shows"
)

var _ shows.Registry = (*Store)(nil)

const showColumns = "id, system_name, system_path, tmdb_name, aliases_json, first_air_date, status, season_count, episode_count, created_at, updated_at"

// SaveShow inserts or replaces show with its name keys and episodes.
func (s *Store) SaveShow(ctx context.Context, show *shows.Show, episodes []shows.Episode) error {
	if show == nil {
		return errors.New("show is nil")
	}
	if err := show.Validate(); err != nil {
		return err
	}
	aliases, err := json.Marshal(show.Aliases)
	if err != nil {
		return fmt.Errorf("marshal aliases: %w", err)
	}
	now := s.now()
	created := show.CreatedAt
	if created.IsZero() {
		created = now
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shows (`+showColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                 system_name = excluded.system_name, system_path = excluded.system_path,
                 tmdb_name = excluded.tmdb_name, aliases_json = excluded.aliases_json,
                 first_air_date = excluded.first_air_date, status = excluded.status,
                 season_count = excluded.season_count, episode_count = excluded.episode_count,
                 updated_at = excluded.updated_at`,
			show.ID, show.SystemName, show.SystemPath, nullableString(show.TMDBName), string(aliases),
			nullableString(show.FirstAirDate), nullableString(show.Status), show.SeasonCount, show.EpisodeCount,
			formatTime(created), formatTime(now),
		); err != nil {
			return fmt.Errorf("upsert show %d: %w", show.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM show_names WHERE show_id = ?`, show.ID); err != nil {
			return fmt.Errorf("clear show names: %w", err)
		}
		for _, key := range show.NameKeys() {
			if _, err := tx.ExecContext(ctx, `INSERT INTO show_names (show_id, name_key) VALUES (?, ?)`, show.ID, key); err != nil {
				return fmt.Errorf("insert show name: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE show_id = ?`, show.ID); err != nil {
			return fmt.Errorf("clear episodes: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO episodes (show_id, season, episode, absolute_episode, tmdb_episode_id, title, air_date, episode_type)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("prepare episode insert: %w", err)
		}
		defer stmt.Close()
		for _, ep := range episodes {
			if _, err := stmt.ExecContext(ctx, show.ID, ep.Season, ep.Episode, ep.AbsoluteEpisode,
				nullableID(ep.TMDBEpisodeID), nullableString(ep.Title), nullableString(ep.AirDate), nullableString(ep.EpisodeType),
			); err != nil {
				return fmt.Errorf("insert episode S%02dE%02d: %w", ep.Season, ep.Episode, err)
			}
		}
		return nil
	})
}

// GetShow returns the show with TMDB id, if registered.
func (s *Store) GetShow(ctx context.Context, id int64) (*shows.Show, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id)
	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get show: %w", err)
	}
	return show, nil
}

// ListShows returns every registered show ordered by system name.
func (s *Store) ListShows(ctx context.Context) ([]*shows.Show, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+showColumns+` FROM shows ORDER BY system_name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer rows.Close()
	var out []*shows.Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		out = append(out, show)
	}
	return out, rows.Err()
}

// FindShowByNameOrAlias matches name against every stored name key.
func (s *Store) FindShowByNameOrAlias(ctx context.Context, name string) (*shows.Show, error) {
	key := shows.NormalizeName(name)
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prefixed("s.", showColumns)+`
         FROM shows s JOIN show_names n ON n.show_id = s.id
         WHERE n.name_key = ?
         ORDER BY s.id LIMIT 1`,
		key,
	)
	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find show: %w", err)
	}
	return show, nil
}

// GetEpisodesForShow lists a show's episodes in season order.
func (s *Store) GetEpisodesForShow(ctx context.Context, showID int64) ([]shows.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT show_id, season, episode, absolute_episode, tmdb_episode_id, title, air_date, episode_type
         FROM episodes WHERE show_id = ? ORDER BY season, episode`,
		showID,
	)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()
	var out []shows.Episode
	for rows.Next() {
		var (
			ep          shows.Episode
			tmdbID      sql.NullInt64
			title       sql.NullString
			airDate     sql.NullString
			episodeType sql.NullString
		)
		if err := rows.Scan(&ep.ShowID, &ep.Season, &ep.Episode, &ep.AbsoluteEpisode, &tmdbID, &title, &airDate, &episodeType); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.TMDBEpisodeID = tmdbID.Int64
		ep.Title = title.String
		ep.AirDate = airDate.String
		ep.EpisodeType = episodeType.String
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanShow(row scanner) (*shows.Show, error) {
	var (
		show       shows.Show
		tmdbName   sql.NullString
		aliasesRaw string
		firstAir   sql.NullString
		status     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(&show.ID, &show.SystemName, &show.SystemPath, &tmdbName, &aliasesRaw,
		&firstAir, &status, &show.SeasonCount, &show.EpisodeCount, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	if aliasesRaw != "" {
		if err := json.Unmarshal([]byte(aliasesRaw), &show.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases: %w", err)
		}
	}
	show.TMDBName = tmdbName.String
	show.FirstAirDate = firstAir.String
	show.Status = status.String
	show.CreatedAt = parseTime(createdRaw)
	show.UpdatedAt = parseTime(updatedRaw)
	return &show, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, part := range parts {
		parts[i] = prefix + part
	}
	return strings.Join(parts, ", ")
}
