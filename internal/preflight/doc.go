// Package preflight provides readiness checks for the local filesystem paths
// nasferry writes into.
//
// These checks run in two contexts:
//   - The syncer calls CheckDownload before transferring a batch. A failure
//     aborts the run so nothing is half-landed on a full or read-only disk.
//   - The CLI and the operator API health endpoint call RunAll to display
//     directory health.
package preflight
