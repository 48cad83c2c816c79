package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nasferry/internal/shows"
)

var _ shows.Registry = (*Store)(nil)

const showColumns = "s.id, s.system_name, s.system_path, s.tmdb_name, s.aliases, s.first_air_date, s.status, s.season_count, s.episode_count, s.created_at, s.updated_at"

// SaveShow inserts or replaces show with its name keys and episodes.
func (s *Store) SaveShow(ctx context.Context, show *shows.Show, episodes []shows.Episode) error {
	if show == nil {
		return errors.New("show is nil")
	}
	if err := show.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	created := show.CreatedAt
	if created.IsZero() {
		created = now
	}
	aliases := show.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO shows (id, system_name, system_path, tmdb_name, aliases, first_air_date, status, season_count, episode_count, created_at, updated_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
             ON CONFLICT (id) DO UPDATE SET
                 system_name = EXCLUDED.system_name, system_path = EXCLUDED.system_path,
                 tmdb_name = EXCLUDED.tmdb_name, aliases = EXCLUDED.aliases,
                 first_air_date = EXCLUDED.first_air_date, status = EXCLUDED.status,
                 season_count = EXCLUDED.season_count, episode_count = EXCLUDED.episode_count,
                 updated_at = EXCLUDED.updated_at`,
			show.ID, show.SystemName, show.SystemPath, nullable(show.TMDBName), aliases,
			nullable(show.FirstAirDate), nullable(show.Status), show.SeasonCount, show.EpisodeCount,
			created.UTC(), now,
		); err != nil {
			return fmt.Errorf("upsert show %d: %w", show.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM show_names WHERE show_id = $1`, show.ID); err != nil {
			return fmt.Errorf("clear show names: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO show_names (show_id, name_key) SELECT $1, k FROM unnest($2::text[]) AS k`,
			show.ID, show.NameKeys(),
		); err != nil {
			return fmt.Errorf("insert show names: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM episodes WHERE show_id = $1`, show.ID); err != nil {
			return fmt.Errorf("clear episodes: %w", err)
		}
		batch := &pgx.Batch{}
		for _, ep := range episodes {
			batch.Queue(
				`INSERT INTO episodes (show_id, season, episode, absolute_episode, tmdb_episode_id, title, air_date, episode_type)
                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
                 ON CONFLICT (show_id, season, episode) DO UPDATE SET
                     absolute_episode = EXCLUDED.absolute_episode, tmdb_episode_id = EXCLUDED.tmdb_episode_id,
                     title = EXCLUDED.title, air_date = EXCLUDED.air_date, episode_type = EXCLUDED.episode_type`,
				show.ID, ep.Season, ep.Episode, ep.AbsoluteEpisode, nullableID(ep.TMDBEpisodeID),
				nullable(ep.Title), nullable(ep.AirDate), nullable(ep.EpisodeType),
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert episodes: %w", err)
		}
		return nil
	})
}

// GetShow returns the show with TMDB id, if registered.
func (s *Store) GetShow(ctx context.Context, id int64) (*shows.Show, error) {
	show, err := scanShow(s.pool.QueryRow(ctx, `SELECT `+showColumns+` FROM shows s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get show: %w", err)
	}
	return show, nil
}

// ListShows returns every registered show ordered by system name.
func (s *Store) ListShows(ctx context.Context) ([]*shows.Show, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+showColumns+` FROM shows s ORDER BY lower(s.system_name), s.id`)
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
	show, err := scanShow(s.pool.QueryRow(ctx,
		`SELECT `+showColumns+`
         FROM shows s JOIN show_names n ON n.show_id = s.id
         WHERE n.name_key = $1
         ORDER BY s.id LIMIT 1`,
		key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find show: %w", err)
	}
	return show, nil
}

// GetEpisodesForShow lists a show's episodes in season order.
func (s *Store) GetEpisodesForShow(ctx context.Context, showID int64) ([]shows.Episode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT show_id, season, episode, absolute_episode, tmdb_episode_id, title, air_date, episode_type
         FROM episodes WHERE show_id = $1 ORDER BY season, episode`,
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
			tmdbID      *int64
			title       *string
			airDate     *string
			episodeType *string
		)
		if err := rows.Scan(&ep.ShowID, &ep.Season, &ep.Episode, &ep.AbsoluteEpisode, &tmdbID, &title, &airDate, &episodeType); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if tmdbID != nil {
			ep.TMDBEpisodeID = *tmdbID
		}
		ep.Title = deref(title)
		ep.AirDate = deref(airDate)
		ep.EpisodeType = deref(episodeType)
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanShow(row pgx.Row) (*shows.Show, error) {
	var (
		show     shows.Show
		tmdbName *string
		firstAir *string
		status   *string
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&show.ID, &show.SystemName, &show.SystemPath, &tmdbName, &show.Aliases,
		&firstAir, &status, &show.SeasonCount, &show.EpisodeCount, &created, &updated,
	); err != nil {
		return nil, err
	}
	show.TMDBName = deref(tmdbName)
	show.FirstAirDate = deref(firstAir)
	show.Status = deref(status)
	show.CreatedAt = created.UTC()
	show.UpdatedAt = updated.UTC()
	return &show, nil
}
