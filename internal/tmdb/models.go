package tmdb

// Result represents a single TMDB TV search match.
type Result struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	OriginalName string  `json:"original_name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"first_air_date"`
	Popularity   float64 `json:"popularity"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int64   `json:"vote_count"`
}

// Response models the TMDB paginated search response.
type Response struct {
	Page         int      `json:"page"`
	Results      []Result `json:"results"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
}

// SeasonSummary is the per-season entry embedded in TV details.
type SeasonSummary struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	SeasonNumber int    `json:"season_number"`
	EpisodeCount int    `json:"episode_count"`
	AirDate      string `json:"air_date"`
}

// EpisodeGroupSummary lists an available episode group.
type EpisodeGroupSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         int    `json:"type"`
	GroupCount   int    `json:"group_count"`
	EpisodeCount int    `json:"episode_count"`
}

// AlternativeTitle is one localized show title.
type AlternativeTitle struct {
	Title   string `json:"title"`
	Country string `json:"iso_3166_1"`
	Type    string `json:"type"`
}

// TVDetails is the TV details payload with episode_groups and
// alternative_titles appended.
type TVDetails struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	OriginalName     string          `json:"original_name"`
	Overview         string          `json:"overview"`
	FirstAirDate     string          `json:"first_air_date"`
	Status           string          `json:"status"`
	NumberOfSeasons  int             `json:"number_of_seasons"`
	NumberOfEpisodes int             `json:"number_of_episodes"`
	Seasons          []SeasonSummary `json:"seasons"`
	EpisodeGroups    struct {
		Results []EpisodeGroupSummary `json:"results"`
	} `json:"episode_groups"`
	AlternativeTitles struct {
		Results []AlternativeTitle `json:"results"`
	} `json:"alternative_titles"`
}

// Episode describes a single TMDB episode entry.
type Episode struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Overview      string `json:"overview"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	EpisodeType   string `json:"episode_type"`
	AirDate       string `json:"air_date"`
	Order         int    `json:"order"`
}

// SeasonDetails captures the full TMDB season payload (episodes included).
type SeasonDetails struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	SeasonNumber int       `json:"season_number"`
	Episodes     []Episode `json:"episodes"`
}

// Group is one ordered bucket inside an episode group.
type Group struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Order    int       `json:"order"`
	Episodes []Episode `json:"episodes"`
}

// EpisodeGroup is an alternate ordering of a show's episodes.
type EpisodeGroup struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Type   int     `json:"type"`
	Groups []Group `json:"groups"`
}

// EpisodeGroupTypeProduction is the TMDB type for production ordering.
const EpisodeGroupTypeProduction = 6
