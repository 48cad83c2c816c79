package tmdb_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nasferry/internal/services"
	"nasferry/internal/tmdb"
)

func TestSearchTV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/tv" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "Vinland Saga" {
			t.Fatalf("unexpected query %q", got)
		}
		if got := r.URL.Query().Get("api_key"); got != "key" {
			t.Fatalf("unexpected api key %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "en-US" {
			t.Fatalf("unexpected language %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"page":1,"results":[{"id":88803,"name":"Vinland Saga","first_air_date":"2019-07-08","vote_average":8.6}],"total_pages":1,"total_results":1}`))
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := client.SearchTV(context.Background(), " Vinland Saga ")
	if err != nil {
		t.Fatalf("SearchTV: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != 88803 {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearchTVRejectsEmptyQuery(t *testing.T) {
	client, err := tmdb.New("key", "http://tmdb.invalid", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.SearchTV(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := tmdb.New("", "http://tmdb.invalid", ""); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestGetTVDetailsAppendsGroupsAndTitles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/42" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("append_to_response"); got != "episode_groups,alternative_titles" {
			t.Fatalf("unexpected append_to_response %q", got)
		}
		_, _ = w.Write([]byte(`{
			"id":42,"name":"Example Show","status":"Ended","number_of_seasons":1,"number_of_episodes":2,
			"seasons":[{"season_number":0,"episode_count":1},{"season_number":1,"episode_count":2}],
			"episode_groups":{"results":[{"id":"abc","name":"Production","type":6,"group_count":2}]},
			"alternative_titles":{"results":[{"title":"Beispiel","iso_3166_1":"DE"}]}
		}`))
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	details, err := client.GetTVDetails(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTVDetails: %v", err)
	}
	if len(details.Seasons) != 2 {
		t.Fatalf("expected 2 seasons, got %d", len(details.Seasons))
	}
	if len(details.EpisodeGroups.Results) != 1 || details.EpisodeGroups.Results[0].Type != tmdb.EpisodeGroupTypeProduction {
		t.Fatalf("unexpected episode groups: %+v", details.EpisodeGroups.Results)
	}
	if len(details.AlternativeTitles.Results) != 1 || details.AlternativeTitles.Results[0].Title != "Beispiel" {
		t.Fatalf("unexpected alternative titles: %+v", details.AlternativeTitles.Results)
	}
}

func TestGetEpisodeGroup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/episode_group/abc" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"abc","type":6,"groups":[{"name":"Season 1","order":1,"episodes":[{"id":1,"name":"Pilot","order":0}]}]}`))
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	group, err := client.GetEpisodeGroup(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetEpisodeGroup: %v", err)
	}
	if len(group.Groups) != 1 || len(group.Groups[0].Episodes) != 1 || group.Groups[0].Episodes[0].Name != "Pilot" {
		t.Fatalf("unexpected group payload: %+v", group)
	}
}

func TestStatusErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status int
		marker error
	}{
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusTooManyRequests, services.ErrTransient},
		{http.StatusBadGateway, services.ErrTransient},
		{http.StatusUnauthorized, services.ErrConfiguration},
		{http.StatusBadRequest, services.ErrUpstream},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		client, err := tmdb.New("key", server.URL, "")
		if err != nil {
			server.Close()
			t.Fatalf("New: %v", err)
		}
		_, err = client.GetSeasonDetails(context.Background(), 1, 1)
		server.Close()
		if !errors.Is(err, tt.marker) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.marker, err)
		}
	}
}

func TestCacheServesRepeatedRequests(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":7,"name":"S1","season_number":1,"episodes":[{"episode_number":1}]}`))
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "", tmdb.WithCache(16, time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		season, err := client.GetSeasonDetails(context.Background(), 7, 1)
		if err != nil {
			t.Fatalf("GetSeasonDetails: %v", err)
		}
		if len(season.Episodes) != 1 {
			t.Fatalf("unexpected episodes: %+v", season.Episodes)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one upstream request, got %d", got)
	}
}

func TestErrorResponsesAreNotCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"page":1,"results":[]}`))
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "", tmdb.WithCache(16, time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.SearchTV(context.Background(), "x"); err == nil {
		t.Fatal("expected first request to fail")
	}
	if _, err := client.SearchTV(context.Background(), "x"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 upstream requests, got %d", got)
	}
}
