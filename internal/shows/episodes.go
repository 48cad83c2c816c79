package shows

import (
	"sort"

	"nasferry/internal/tmdb"
)

// EpisodesFromGroup derives episodes from a production episode group. The
// group order is the season, the in-group order (zero based) plus one is the
// episode, and the absolute number runs across every group except order 0,
// which holds specials.
func EpisodesFromGroup(showID int64, group *tmdb.EpisodeGroup) []Episode {
	if group == nil {
		return nil
	}
	groups := append([]tmdb.Group(nil), group.Groups...)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Order < groups[j].Order })

	var out []Episode
	abs := 0
	for _, g := range groups {
		eps := append([]tmdb.Episode(nil), g.Episodes...)
		sort.SliceStable(eps, func(i, j int) bool { return eps[i].Order < eps[j].Order })
		for _, ep := range eps {
			episode := Episode{
				ShowID:        showID,
				Season:        g.Order,
				Episode:       ep.Order + 1,
				TMDBEpisodeID: ep.ID,
				Title:         ep.Name,
				AirDate:       ep.AirDate,
				EpisodeType:   episodeType(ep),
			}
			if g.Order > 0 {
				abs++
				episode.AbsoluteEpisode = abs
			}
			out = append(out, episode)
		}
	}
	return out
}

// EpisodesFromSeasons derives episodes from broadcast seasons. Season 0
// (specials) is skipped and the absolute number runs across the remaining
// seasons in order.
func EpisodesFromSeasons(showID int64, seasons []*tmdb.SeasonDetails) []Episode {
	sorted := make([]*tmdb.SeasonDetails, 0, len(seasons))
	for _, season := range seasons {
		if season != nil && season.SeasonNumber > 0 {
			sorted = append(sorted, season)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SeasonNumber < sorted[j].SeasonNumber })

	var out []Episode
	abs := 0
	for _, season := range sorted {
		for _, ep := range season.Episodes {
			if ep.EpisodeNumber <= 0 {
				continue
			}
			abs++
			out = append(out, Episode{
				ShowID:          showID,
				Season:          season.SeasonNumber,
				Episode:         ep.EpisodeNumber,
				AbsoluteEpisode: abs,
				TMDBEpisodeID:   ep.ID,
				Title:           ep.Name,
				AirDate:         ep.AirDate,
				EpisodeType:     episodeType(ep),
			})
		}
	}
	return out
}

// productionGroupID returns the first production episode group, if any.
func productionGroupID(details *tmdb.TVDetails) string {
	for _, group := range details.EpisodeGroups.Results {
		if group.Type == tmdb.EpisodeGroupTypeProduction && group.ID != "" {
			return group.ID
		}
	}
	return ""
}

func episodeType(ep tmdb.Episode) string {
	if ep.EpisodeType == "" {
		return "standard"
	}
	return ep.EpisodeType
}
