package routing

import (
	"context"
	"fmt"

	"nasferry/internal/logging"
	"nasferry/internal/records"
	"nasferry/internal/shows"
)

// Unmatched is a DOWNLOADED media record that automatic routing cannot place
// because its show is not registered, with catalog candidates for follow-up.
type Unmatched struct {
	Record     *records.FileRecord
	Match      Match
	Candidates []shows.Candidate
}

// Unmatched lists records whose parsed show is unknown. When searcher is nil
// no candidates are fetched. A failed catalog search is logged and leaves the
// record without candidates.
func (e *Engine) Unmatched(ctx context.Context, searcher shows.CatalogSearcher) ([]Unmatched, error) {
	candidates, err := e.Candidates(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []Unmatched
	searched := make(map[string][]shows.Candidate)
	for _, rec := range candidates {
		res, err := e.resolver.Resolve(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", rec.Name, err)
		}
		if res.Outcome != OutcomeUnknownShow {
			continue
		}
		item := Unmatched{Record: rec, Match: res.Match}
		if searcher != nil {
			key := shows.NormalizeName(res.Match.ShowName)
			hits, ok := searched[key]
			if !ok {
				hits, err = searcher.SearchRemoteCatalog(ctx, res.Match.ShowName)
				if err != nil {
					logging.WarnWithContext(logging.WithContext(ctx, e.logger), "catalog search failed", "catalog_search_failed",
						logging.String("show", res.Match.ShowName),
						logging.Error(err),
					)
				}
				searched[key] = hits
			}
			item.Candidates = hits
		}
		out = append(out, item)
	}
	return out, nil
}
