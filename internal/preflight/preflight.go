package preflight

import (
	"errors"
	"fmt"

	"nasferry/internal/config"
	"nasferry/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the directory checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Incoming directory (always checked)
	results = append(results, CheckDirectoryAccess("Incoming directory", cfg.Paths.IncomingDir))

	// Library directory (when configured)
	if cfg.Paths.LibraryDir != "" {
		results = append(results, CheckDirectoryAccess("Library directory", cfg.Paths.LibraryDir))
	}

	if cfg.Download.MinFreeBytes > 0 {
		results = append(results, CheckFreeSpace("Incoming free space", cfg.Paths.IncomingDir, uint64(cfg.Download.MinFreeBytes)))
	}

	return results
}

// CheckDownload verifies that a batch of batchBytes can be landed in the
// incoming directory. The incoming directory must be writable and, when
// download.min_free_bytes is set, hold that reserve plus the batch.
func CheckDownload(cfg *config.Config, batchBytes int64) error {
	results := []Result{CheckDirectoryAccess("Incoming directory", cfg.Paths.IncomingDir)}
	if cfg.Download.MinFreeBytes > 0 {
		need := uint64(cfg.Download.MinFreeBytes)
		if batchBytes > 0 {
			need += uint64(batchBytes)
		}
		results = append(results, CheckFreeSpace("Incoming free space", cfg.Paths.IncomingDir, need))
	}
	return Failed(results)
}

// Failed joins the failed results into one configuration error, or nil.
func Failed(results []Result) error {
	var errs []error
	for _, r := range results {
		if !r.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check", "local storage not ready", errors.Join(errs...))
}
