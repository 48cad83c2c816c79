// Package tmdb is a small client for the parts of The Movie Database API used
// to import shows: TV search, TV details (with episode groups and alternative
// titles appended), season details, and episode groups.
//
// Successful GET responses are held in an expirable LRU keyed by request URL
// so repeated imports and operator searches do not re-fetch identical pages.
package tmdb
