package shows_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"nasferry/internal/services"
	"nasferry/internal/shows"
	"nasferry/internal/store/memory"
	"nasferry/internal/tmdb"
)

type fakeCatalog struct {
	search     *tmdb.Response
	details    map[int64]*tmdb.TVDetails
	seasons    map[int]*tmdb.SeasonDetails
	group      *tmdb.EpisodeGroup
	groupErr   error
	seasonHits int
}

func (f *fakeCatalog) SearchTV(context.Context, string) (*tmdb.Response, error) {
	return f.search, nil
}

func (f *fakeCatalog) GetTVDetails(_ context.Context, id int64) (*tmdb.TVDetails, error) {
	details, ok := f.details[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return details, nil
}

func (f *fakeCatalog) GetSeasonDetails(_ context.Context, _ int64, season int) (*tmdb.SeasonDetails, error) {
	f.seasonHits++
	details, ok := f.seasons[season]
	if !ok {
		return nil, services.ErrNotFound
	}
	return details, nil
}

func (f *fakeCatalog) GetEpisodeGroup(context.Context, string) (*tmdb.EpisodeGroup, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return f.group, nil
}

func titanDetails() *tmdb.TVDetails {
	details := &tmdb.TVDetails{
		ID:               1429,
		Name:             "Attack on Titan",
		OriginalName:     "進撃の巨人",
		FirstAirDate:     "2013-04-07",
		Status:           "Ended",
		NumberOfSeasons:  1,
		NumberOfEpisodes: 2,
		Seasons: []tmdb.SeasonSummary{
			{SeasonNumber: 0, EpisodeCount: 1},
			{SeasonNumber: 1, EpisodeCount: 2},
		},
	}
	details.AlternativeTitles.Results = []tmdb.AlternativeTitle{{Title: "Shingeki no Kyojin"}}
	return details
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{
		details: map[int64]*tmdb.TVDetails{1429: titanDetails()},
		seasons: map[int]*tmdb.SeasonDetails{
			1: {SeasonNumber: 1, Episodes: []tmdb.Episode{
				{ID: 11, Name: "To You", SeasonNumber: 1, EpisodeNumber: 1},
				{ID: 12, Name: "That Day", SeasonNumber: 1, EpisodeNumber: 2},
			}},
		},
	}
}

func TestImportRegistersShowWithAliases(t *testing.T) {
	ctx := context.Background()
	registry := memory.New()
	library := t.TempDir()
	svc := shows.NewService(registry, newCatalog(), library, nil)

	show, episodes, err := svc.Import(ctx, 1429, shows.ImportOptions{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if show.SystemPath != filepath.Join(library, "Attack on Titan") {
		t.Fatalf("unexpected system path %q", show.SystemPath)
	}
	if info, err := os.Stat(show.SystemPath); err != nil || !info.IsDir() {
		t.Fatalf("show directory not created: %v", err)
	}
	if len(episodes) != 2 || episodes[1].AbsoluteEpisode != 2 {
		t.Fatalf("unexpected episodes: %+v", episodes)
	}
	for _, name := range []string{"shingeki no kyojin", "Attack.on.Titan", "進撃の巨人"} {
		found, err := registry.FindShowByNameOrAlias(ctx, name)
		if err != nil || found == nil || found.ID != 1429 {
			t.Fatalf("FindShowByNameOrAlias(%q) = %v, %v", name, found, err)
		}
	}

	if _, _, err := svc.Import(ctx, 1429, shows.ImportOptions{}); !errors.Is(err, shows.ErrShowExists) {
		t.Fatalf("expected ErrShowExists, got %v", err)
	}
	replaced, _, err := svc.Import(ctx, 1429, shows.ImportOptions{Replace: true, SystemName: "AoT: Final"})
	if err != nil {
		t.Fatalf("Import replace: %v", err)
	}
	if replaced.SystemPath != filepath.Join(library, "AoT- Final") {
		t.Fatalf("unexpected sanitized path %q", replaced.SystemPath)
	}
	if !replaced.CreatedAt.Equal(show.CreatedAt) {
		t.Fatalf("created_at changed on replace")
	}
}

func TestImportPrefersProductionGroup(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog()
	details := catalog.details[1429]
	details.EpisodeGroups.Results = []tmdb.EpisodeGroupSummary{{ID: "grp", Type: tmdb.EpisodeGroupTypeProduction}}
	catalog.group = &tmdb.EpisodeGroup{ID: "grp", Type: tmdb.EpisodeGroupTypeProduction, Groups: []tmdb.Group{
		{Order: 1, Episodes: []tmdb.Episode{{ID: 11, Order: 0}, {ID: 12, Order: 1}, {ID: 13, Order: 2}}},
	}}
	svc := shows.NewService(memory.New(), catalog, t.TempDir(), nil)

	_, episodes, err := svc.Import(ctx, 1429, shows.ImportOptions{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(episodes) != 3 || episodes[2].AbsoluteEpisode != 3 {
		t.Fatalf("unexpected group episodes: %+v", episodes)
	}
	if catalog.seasonHits != 0 {
		t.Fatalf("seasons fetched despite production group: %d", catalog.seasonHits)
	}
}

func TestImportFallsBackWhenGroupFails(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog()
	catalog.details[1429].EpisodeGroups.Results = []tmdb.EpisodeGroupSummary{{ID: "grp", Type: tmdb.EpisodeGroupTypeProduction}}
	catalog.groupErr = services.ErrTransient
	svc := shows.NewService(memory.New(), catalog, t.TempDir(), nil)

	_, episodes, err := svc.Import(ctx, 1429, shows.ImportOptions{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(episodes) != 2 || catalog.seasonHits != 1 {
		t.Fatalf("expected broadcast fallback, episodes=%d seasonHits=%d", len(episodes), catalog.seasonHits)
	}
}

func TestRefreshKeepsSystemPath(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog()
	registry := memory.New()
	svc := shows.NewService(registry, catalog, t.TempDir(), nil)

	if _, _, err := svc.Refresh(ctx, 1429); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	imported, _, err := svc.Import(ctx, 1429, shows.ImportOptions{SystemName: "Titan"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	catalog.details[1429].Name = "Attack on Titan (2013)"
	refreshed, _, err := svc.Refresh(ctx, 1429)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.SystemPath != imported.SystemPath || refreshed.SystemName != "Titan" {
		t.Fatalf("refresh moved show: %+v", refreshed)
	}
	if refreshed.TMDBName != "Attack on Titan (2013)" {
		t.Fatalf("tmdb name not refreshed: %q", refreshed.TMDBName)
	}
}

func TestSearchRemoteCatalogRanksByTitle(t *testing.T) {
	catalog := newCatalog()
	catalog.search = &tmdb.Response{Results: []tmdb.Result{
		{ID: 1, Name: "Titans"},
		{ID: 1429, Name: "Attack on Titan"},
	}}
	svc := shows.NewService(memory.New(), catalog, t.TempDir(), nil)
	candidates, err := svc.SearchRemoteCatalog(context.Background(), "attack on titan")
	if err != nil {
		t.Fatalf("SearchRemoteCatalog: %v", err)
	}
	if len(candidates) != 2 || candidates[0].ID != 1429 {
		t.Fatalf("unexpected ranking: %+v", candidates)
	}
	if candidates[0].Score < candidates[1].Score {
		t.Fatalf("scores not descending: %+v", candidates)
	}
}

func TestServiceWithoutCatalog(t *testing.T) {
	svc := shows.NewService(memory.New(), nil, t.TempDir(), nil)
	if _, err := svc.SearchRemoteCatalog(context.Background(), "x"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
