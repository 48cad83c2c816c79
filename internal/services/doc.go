// Package services defines shared utilities consumed by the sync, download,
// and routing components.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, record IDs, remote roots, and stage
//     names for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (transient vs validation) without string matching.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
