// Package shows models the registry of known shows and their episodes, the
// metadata collaborator the routing engine resolves filenames against.
//
// Shows are imported from TMDB by Service.Import, which derives one Episode
// per TMDB episode with a show-wide absolute number, and persisted through a
// Registry implemented by every store backend. Records reference a show only
// by its TMDB id; the pipeline never caches Show values.
package shows
