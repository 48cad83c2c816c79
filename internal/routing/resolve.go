package routing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"nasferry/internal/records"
	"nasferry/internal/shows"
)

// Outcome is the tagged result of resolving or routing one record.
type Outcome string

const (
	// OutcomeResolved means show, season, and episode are known.
	OutcomeResolved Outcome = "resolved"
	// OutcomeUnparsed means no filename family matched.
	OutcomeUnparsed Outcome = "unparsed"
	// OutcomeUnknownShow means the parsed show is not in the registry.
	OutcomeUnknownShow Outcome = "unknown_show"
	// OutcomeUnresolved means the absolute episode has no registry entry.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeRouted means the file was moved into the library.
	OutcomeRouted Outcome = "routed"
	// OutcomeFailed means the move or a state change failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the record was no longer eligible when its turn came.
	OutcomeSkipped Outcome = "skipped"
)

// Resolution is what the resolver learned about a record. Show, Season,
// Episode, and Destination are set only for OutcomeResolved.
type Resolution struct {
	Outcome     Outcome
	Match       Match
	Show        *shows.Show
	Season      int
	Episode     int
	Destination string
	Confidence  float64
	Reasoning   string
}

// Routing converts a resolved outcome into the record's routing fields.
func (r Resolution) Routing() records.Routing {
	out := records.Routing{
		ShowName:   r.Match.ShowName,
		Confidence: r.Confidence,
		Reasoning:  r.Reasoning,
	}
	if r.Show != nil {
		out.ShowName = r.Show.SystemName
		out.ShowID = r.Show.ID
	}
	if r.Outcome == OutcomeResolved {
		season, episode := r.Season, r.Episode
		out.Season = &season
		out.Episode = &episode
	}
	return out
}

// Resolver maps filenames to library destinations through the show registry.
type Resolver struct {
	lookup  shows.Lookup
	timeout time.Duration
}

// NewResolver builds a resolver; timeout bounds each registry call when positive.
func NewResolver(lookup shows.Lookup, timeout time.Duration) *Resolver {
	return &Resolver{lookup: lookup, timeout: timeout}
}

// Resolve parses rec's filename and resolves it against the registry. An
// error is returned only when the registry itself fails.
func (r *Resolver) Resolve(ctx context.Context, rec *records.FileRecord) (Resolution, error) {
	match, ok := ParseFilename(rec.Name)
	if !ok {
		return Resolution{Outcome: OutcomeUnparsed, Reasoning: "no filename pattern matched"}, nil
	}
	res := Resolution{Match: match}

	show, err := r.findShow(ctx, match.ShowName)
	if err != nil {
		return res, err
	}
	if show == nil {
		res.Outcome = OutcomeUnknownShow
		res.Reasoning = fmt.Sprintf("show %q is not registered", match.ShowName)
		return res, nil
	}
	res.Show = show

	if match.Season != nil {
		res.Season = *match.Season
		res.Episode = match.Episode
		res.Confidence = 1
		res.Reasoning = fmt.Sprintf("%s pattern gave S%02dE%02d", match.Pattern, res.Season, res.Episode)
	} else {
		episodes, err := r.episodes(ctx, show.ID)
		if err != nil {
			return res, err
		}
		ep, found := shows.FindEpisodeByAbsolute(episodes, match.Episode)
		if !found {
			res.Outcome = OutcomeUnresolved
			res.Reasoning = fmt.Sprintf("absolute episode %d not found for %s", match.Episode, show.SystemName)
			return res, nil
		}
		res.Season = ep.Season
		res.Episode = ep.Episode
		res.Confidence = 0.9
		res.Reasoning = fmt.Sprintf("absolute episode %d resolved to S%02dE%02d", match.Episode, ep.Season, ep.Episode)
	}

	season := res.Season
	res.Outcome = OutcomeResolved
	res.Destination = filepath.Join(SeasonDir(show.SystemPath, &season), rec.Name)
	return res, nil
}

func (r *Resolver) findShow(ctx context.Context, name string) (*shows.Show, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	show, err := r.lookup.FindShowByNameOrAlias(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find show %q: %w", name, err)
	}
	return show, nil
}

func (r *Resolver) episodes(ctx context.Context, showID int64) ([]shows.Episode, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	episodes, err := r.lookup.GetEpisodesForShow(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("episodes for show %d: %w", showID, err)
	}
	return episodes, nil
}

func (r *Resolver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
