// Package config loads, normalizes, and validates nasferry configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TMDB_API_KEY and NASFERRY_POSTGRES_DSN. The Config value is built once at
// startup and handed to component constructors; nothing in the pipeline reads
// process-wide mutable settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
