package shows

import "context"

// Lookup is the read side used by the routing engine. Lookups that find
// nothing return (nil, nil).
type Lookup interface {
	// FindShowByNameOrAlias matches name case-insensitively against system
	// names, TMDB names, and aliases.
	FindShowByNameOrAlias(ctx context.Context, name string) (*Show, error)
	GetEpisodesForShow(ctx context.Context, showID int64) ([]Episode, error)
}

// Registry is the full show store implemented by every backend.
type Registry interface {
	Lookup
	// SaveShow inserts or replaces a show, its name keys, and its episodes
	// atomically.
	SaveShow(ctx context.Context, show *Show, episodes []Episode) error
	GetShow(ctx context.Context, id int64) (*Show, error)
	ListShows(ctx context.Context) ([]*Show, error)
}

// CatalogSearcher searches the remote metadata catalog. It is used only by
// operator tooling, never by automatic routing.
type CatalogSearcher interface {
	SearchRemoteCatalog(ctx context.Context, name string) ([]Candidate, error)
}
