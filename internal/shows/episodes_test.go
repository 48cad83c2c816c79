package shows

import (
	"testing"

	"nasferry/internal/tmdb"
)

func TestEpisodesFromGroupUsesOrder(t *testing.T) {
	group := &tmdb.EpisodeGroup{
		ID:   "g1",
		Type: tmdb.EpisodeGroupTypeProduction,
		Groups: []tmdb.Group{
			{Name: "Season 2", Order: 2, Episodes: []tmdb.Episode{{ID: 30, Order: 0}}},
			{Name: "Specials", Order: 0, Episodes: []tmdb.Episode{{ID: 99, Order: 0}}},
			{Name: "Season 1", Order: 1, Episodes: []tmdb.Episode{{ID: 11, Order: 1}, {ID: 10, Order: 0}}},
		},
	}
	got := EpisodesFromGroup(7, group)
	if len(got) != 4 {
		t.Fatalf("expected 4 episodes, got %d", len(got))
	}
	want := []struct {
		id       int64
		season   int
		episode  int
		absolute int
	}{
		{99, 0, 1, 0},
		{10, 1, 1, 1},
		{11, 1, 2, 2},
		{30, 2, 1, 3},
	}
	for i, w := range want {
		ep := got[i]
		if ep.TMDBEpisodeID != w.id || ep.Season != w.season || ep.Episode != w.episode || ep.AbsoluteEpisode != w.absolute {
			t.Fatalf("episode %d = %+v, want %+v", i, ep, w)
		}
		if ep.ShowID != 7 {
			t.Fatalf("episode %d show id = %d", i, ep.ShowID)
		}
	}
}

func TestEpisodesFromSeasonsSkipsSpecials(t *testing.T) {
	seasons := []*tmdb.SeasonDetails{
		{SeasonNumber: 2, Episodes: []tmdb.Episode{{ID: 21, EpisodeNumber: 1}, {ID: 22, EpisodeNumber: 2}}},
		{SeasonNumber: 0, Episodes: []tmdb.Episode{{ID: 1, EpisodeNumber: 1}}},
		{SeasonNumber: 1, Episodes: []tmdb.Episode{{ID: 11, EpisodeNumber: 1}, {ID: 12, EpisodeNumber: 0}}},
		nil,
	}
	got := EpisodesFromSeasons(3, seasons)
	if len(got) != 3 {
		t.Fatalf("expected 3 episodes, got %+v", got)
	}
	if got[0].TMDBEpisodeID != 11 || got[0].AbsoluteEpisode != 1 {
		t.Fatalf("unexpected first episode %+v", got[0])
	}
	if got[2].Season != 2 || got[2].Episode != 2 || got[2].AbsoluteEpisode != 3 {
		t.Fatalf("unexpected last episode %+v", got[2])
	}
	if got[0].EpisodeType != "standard" {
		t.Fatalf("expected default episode type, got %q", got[0].EpisodeType)
	}
}

func TestFindEpisodeByAbsolute(t *testing.T) {
	episodes := []Episode{{Season: 0, Episode: 1}, {Season: 1, Episode: 1, AbsoluteEpisode: 1}, {Season: 2, Episode: 3, AbsoluteEpisode: 15}}
	ep, ok := FindEpisodeByAbsolute(episodes, 15)
	if !ok || ep.Season != 2 || ep.Episode != 3 {
		t.Fatalf("FindEpisodeByAbsolute(15) = %+v, %v", ep, ok)
	}
	if _, ok := FindEpisodeByAbsolute(episodes, 0); ok {
		t.Fatal("absolute 0 must not match specials")
	}
	if _, ok := FindEpisodeByAbsolute(episodes, 16); ok {
		t.Fatal("expected no match for 16")
	}
}

func TestNormalizeNameFoldsCaseAndSpacing(t *testing.T) {
	if got, want := NormalizeName("  Show   NAME "), NormalizeName("show name"); got != want {
		t.Fatalf("NormalizeName mismatch: %q vs %q", got, want)
	}
	if NormalizeName("Show.Name") == NormalizeName("Show Name") {
		t.Fatal("punctuation must be preserved")
	}
	if NormalizeName("   ") != "" {
		t.Fatal("blank names normalize to empty")
	}
}

func TestNameKeysDeduplicate(t *testing.T) {
	show := &Show{ID: 1, SystemName: "Show Name", TMDBName: "show name", Aliases: []string{"SHOW NAME", "Show.Name", ""}}
	keys := show.NameKeys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}
