package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"nasferry/internal/api"
	"nasferry/internal/testsupport"
)

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}

func TestSyncDownloadsAndListsFiles(t *testing.T) {
	env := setupCLITestEnv(t)
	env.remote.AddFile("/remote/tv/Show.Name.S01E02.mkv", 100, testsupport.OldModTime)

	stdout, _, err := env.run(t, "--json", "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	summary := decodeJSON[syncView](t, stdout)
	if summary.Mode != "incremental" || len(summary.Roots) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if root := summary.Roots[0]; root.Downloaded != 1 || root.Persisted != 1 || root.Failed != 0 {
		t.Fatalf("unexpected root summary %+v", root)
	}
	local := filepath.Join(env.cfg.Paths.IncomingDir, "Show.Name.S01E02.mkv")
	if size := testsupport.FileSize(t, local); size != 100 {
		t.Fatalf("expected 100 byte download, got %d", size)
	}

	stdout, _, err = env.run(t, "--json", "files", "list")
	if err != nil {
		t.Fatalf("files list: %v", err)
	}
	list := decodeJSON[api.FileList](t, stdout)
	if list.Total != 1 || list.Files[0].CurrentPath != local || list.Files[0].Status != "downloaded" {
		t.Fatalf("unexpected file list %+v", list)
	}

	stdout, _, err = env.run(t, "--json", "sync")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again := decodeJSON[syncView](t, stdout); again.Roots[0].Changed != 0 {
		t.Fatalf("second sync should see no changes: %+v", again.Roots[0])
	}
	if env.remote.TotalTransfers() != 1 {
		t.Fatalf("expected a single transfer, got %d", env.remote.TotalTransfers())
	}
}

func TestSyncTableOutput(t *testing.T) {
	env := setupCLITestEnv(t)
	env.remote.AddFile("/remote/tv/a.mkv", 10, testsupport.OldModTime)

	stdout, _, err := env.run(t, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(stdout, "/remote/tv") || !strings.Contains(strings.ToUpper(stdout), "DOWNLOADED") {
		t.Fatalf("expected summary table, got:\n%s", stdout)
	}
}

func TestSyncFailsWhileRunLockHeld(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	lock := flock.New(env.cfg.RunLockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}
	defer lock.Unlock()

	_, _, err = env.run(t, "sync")
	if !errors.Is(err, errRunLocked) {
		t.Fatalf("expected run lock error, got %v", err)
	}
	if env.remote.Dials() != 0 {
		t.Fatalf("locked run must not contact the remote, got %d dials", env.remote.Dials())
	}
}

func TestSyncReportsListingFailureWithoutFailing(t *testing.T) {
	env := setupCLITestEnv(t)
	env.remote.FailList("/remote/tv", errors.New("permission denied"))

	stdout, _, err := env.run(t, "--json", "sync")
	if err != nil {
		t.Fatalf("listing failures must not abort the run: %v", err)
	}
	root := decodeJSON[syncView](t, stdout).Roots[0]
	if !root.ListingFailed || !strings.Contains(root.ListingError, "permission denied") {
		t.Fatalf("expected reported listing failure, got %+v", root)
	}
}

func TestBootstrapSnapshotOnlyEstablishesBaseline(t *testing.T) {
	env := setupCLITestEnv(t)
	env.remote.AddFile("/remote/tv/Show A/ep01.mkv", 10, testsupport.OldModTime)
	env.remote.AddFile("/remote/tv/b.mkv", 10, testsupport.OldModTime)

	if _, _, err := env.run(t, "bootstrap", "--snapshot-only"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if env.remote.TotalTransfers() != 0 {
		t.Fatalf("snapshot-only must not download, got %d transfers", env.remote.TotalTransfers())
	}

	stdout, _, err := env.run(t, "--json", "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if root := decodeJSON[syncView](t, stdout).Roots[0]; root.Changed != 0 || root.Downloaded != 0 {
		t.Fatalf("sync after baseline should be quiet: %+v", root)
	}
}
