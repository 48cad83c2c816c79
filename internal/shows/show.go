package shows

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ErrInvalidShow is returned when a show violates its invariants.
var ErrInvalidShow = errors.New("invalid show")

// Show is a library show known to the registry. ID is the TMDB id.
type Show struct {
	ID           int64
	SystemName   string
	SystemPath   string
	TMDBName     string
	Aliases      []string
	FirstAirDate string
	Status       string
	SeasonCount  int
	EpisodeCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Episode is one episode of a show. AbsoluteEpisode is the show-wide running
// number used to resolve filenames that omit a season.
type Episode struct {
	ShowID          int64
	Season          int
	Episode         int
	AbsoluteEpisode int
	TMDBEpisodeID   int64
	Title           string
	AirDate         string
	EpisodeType     string
}

// Candidate is one TMDB search result offered to an operator.
type Candidate struct {
	ID           int64
	Name         string
	OriginalName string
	FirstAirDate string
	Overview     string
	Score        float64
}

// Year returns the first-air year, or "" when unknown.
func (c Candidate) Year() string {
	if len(c.FirstAirDate) >= 4 {
		return c.FirstAirDate[:4]
	}
	return ""
}

// Validate checks the show invariants.
func (s *Show) Validate() error {
	if s.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidShow)
	}
	if strings.TrimSpace(s.SystemName) == "" {
		return fmt.Errorf("%w: system name is required", ErrInvalidShow)
	}
	if strings.TrimSpace(s.SystemPath) == "" {
		return fmt.Errorf("%w: system path is required", ErrInvalidShow)
	}
	return nil
}

// NameKeys returns the distinct normalized names the show can be found by:
// system name, TMDB name, and every alias.
func (s *Show) NameKeys() []string {
	seen := make(map[string]struct{}, len(s.Aliases)+2)
	var keys []string
	for _, name := range append([]string{s.SystemName, s.TMDBName}, s.Aliases...) {
		key := NormalizeName(name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (s *Show) Clone() *Show {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Aliases = append([]string(nil), s.Aliases...)
	return &clone
}

// NormalizeName folds name for case-insensitive comparison. Surrounding and
// repeated whitespace is collapsed; punctuation is kept, so "Show.Name" and
// "Show Name" remain distinct keys.
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	return cases.Fold().String(name)
}

// MergeAliases returns the sorted distinct non-empty titles in groups.
func MergeAliases(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, title := range group {
			title = strings.TrimSpace(title)
			if title == "" {
				continue
			}
			if _, ok := seen[title]; ok {
				continue
			}
			seen[title] = struct{}{}
			out = append(out, title)
		}
	}
	sort.Strings(out)
	return out
}

// FindEpisodeByAbsolute returns the episode whose absolute number is abs.
// Specials carry no absolute number and never match.
func FindEpisodeByAbsolute(episodes []Episode, abs int) (Episode, bool) {
	if abs <= 0 {
		return Episode{}, false
	}
	for _, ep := range episodes {
		if ep.AbsoluteEpisode == abs {
			return ep, true
		}
	}
	return Episode{}, false
}
