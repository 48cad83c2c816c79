// Package snapshot compares remote listings. A snapshot is an unordered set
// of entries keyed by (name, size, modified time, path, is-directory); any
// field change makes an entry new, which catches re-uploads under an existing
// name.
package snapshot
