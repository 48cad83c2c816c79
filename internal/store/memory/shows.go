package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"

	"nasferry/internal/shows"
)

// SaveShow inserts or replaces show and its episodes.
func (s *Store) SaveShow(ctx context.Context, show *shows.Show, episodes []shows.Episode) error {
	if show == nil {
		return errors.New("show is nil")
	}
	if err := show.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := show.Clone()
	now := s.now().UTC()
	if existing, ok := s.shows[show.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.shows[show.ID] = stored
	s.episodes[show.ID] = append([]shows.Episode(nil), episodes...)
	return nil
}

// GetShow returns the show with TMDB id, if registered.
func (s *Store) GetShow(ctx context.Context, id int64) (*shows.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shows[id].Clone(), nil
}

// ListShows returns every registered show ordered by system name.
func (s *Store) ListShows(ctx context.Context) ([]*shows.Show, error) {
	s.mu.Lock()
	out := make([]*shows.Show, 0, len(s.shows))
	for _, show := range s.shows {
		out = append(out, show.Clone())
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b *shows.Show) int {
		if c := cmp.Compare(strings.ToLower(a.SystemName), strings.ToLower(b.SystemName)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// FindShowByNameOrAlias matches name against every show's name keys.
func (s *Store) FindShowByNameOrAlias(ctx context.Context, name string) (*shows.Show, error) {
	key := shows.NormalizeName(name)
	if key == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *shows.Show
	for _, show := range s.shows {
		if !slices.Contains(show.NameKeys(), key) {
			continue
		}
		if match == nil || show.ID < match.ID {
			match = show
		}
	}
	return match.Clone(), nil
}

// GetEpisodesForShow lists a show's episodes in season order.
func (s *Store) GetEpisodesForShow(ctx context.Context, showID int64) ([]shows.Episode, error) {
	s.mu.Lock()
	out := append([]shows.Episode(nil), s.episodes[showID]...)
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b shows.Episode) int {
		if c := cmp.Compare(a.Season, b.Season); c != 0 {
			return c
		}
		return cmp.Compare(a.Episode, b.Episode)
	})
	return out, nil
}
