package routing

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Pattern names the filename family a Match came from.
type Pattern string

const (
	PatternBracketAbsolute Pattern = "bracket_absolute"
	PatternBracketSeason   Pattern = "bracket_season"
	PatternSeasonEpisode   Pattern = "season_episode"
)

var (
	bracketAbsoluteRe = regexp.MustCompile(`\[.*?\]\s*(.*?)(?:\s*\((\d{4})\))?\s*-\s*(\d+)`)
	bracketSeasonRe   = regexp.MustCompile(`\[.*?\]\s*(.*?)\sS(\d+)\s*-\s*(\d+)`)
	seasonEpisodeRe   = regexp.MustCompile(`(?i)^(.*?)(?:[.\-\s](\d{4}))?[.\-\s]S(\d{2})[.\-\s]?E(\d{2})`)
	seasonTokenRe     = regexp.MustCompile(`\bS\d+\b`)
)

// Match is what a filename yields before any registry lookup. Season is set
// only when the filename carries one.
type Match struct {
	Pattern  Pattern
	ShowName string
	Year     int
	Season   *int
	Episode  int
}

func (m Match) String() string {
	if m.Season != nil {
		return fmt.Sprintf("%s S%02dE%02d", m.ShowName, *m.Season, m.Episode)
	}
	return fmt.Sprintf("%s - %02d", m.ShowName, m.Episode)
}

// ParseFilename extracts show, year, season, and episode from name. The
// families are tried in order and the first match wins. The show name is
// returned as written, apart from surrounding whitespace.
func ParseFilename(name string) (Match, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	if m, ok := parseBracketAbsolute(base); ok {
		return m, true
	}
	if sub := bracketSeasonRe.FindStringSubmatch(base); sub != nil {
		season, _ := strconv.Atoi(sub[2])
		episode, _ := strconv.Atoi(sub[3])
		if show := strings.TrimSpace(sub[1]); show != "" {
			return Match{Pattern: PatternBracketSeason, ShowName: show, Season: &season, Episode: episode}, true
		}
	}
	if sub := seasonEpisodeRe.FindStringSubmatch(base); sub != nil {
		season, _ := strconv.Atoi(sub[3])
		episode, _ := strconv.Atoi(sub[4])
		year := 0
		if sub[2] != "" {
			year, _ = strconv.Atoi(sub[2])
		}
		if show := strings.TrimSpace(sub[1]); show != "" {
			return Match{Pattern: PatternSeasonEpisode, ShowName: show, Year: year, Season: &season, Episode: episode}, true
		}
	}
	return Match{}, false
}

// parseBracketAbsolute applies only when no season token follows the tag.
func parseBracketAbsolute(base string) (Match, bool) {
	closing := strings.Index(base, "]")
	if closing < 0 || seasonTokenRe.MatchString(base[closing+1:]) {
		return Match{}, false
	}
	sub := bracketAbsoluteRe.FindStringSubmatch(base)
	if sub == nil {
		return Match{}, false
	}
	show := strings.TrimSpace(sub[1])
	if show == "" {
		return Match{}, false
	}
	episode, _ := strconv.Atoi(sub[3])
	year := 0
	if sub[2] != "" {
		year, _ = strconv.Atoi(sub[2])
	}
	return Match{Pattern: PatternBracketAbsolute, ShowName: show, Year: year, Episode: episode}, true
}

// SeasonDir returns the library directory for season under showPath, or
// showPath itself when the season is unknown.
func SeasonDir(showPath string, season *int) string {
	if season == nil {
		return showPath
	}
	return filepath.Join(showPath, fmt.Sprintf("Season %02d", *season))
}
