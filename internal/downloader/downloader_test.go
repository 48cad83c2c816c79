package downloader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nasferry/internal/downloader"
	"nasferry/internal/logging"
	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/testsupport"
)

func entry(t *testing.T, fake *testsupport.FakeRemote, p string) remote.Entry {
	t.Helper()
	sess, err := fake.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()
	entries, err := sess.ListDirectory(context.Background(), filepath.Dir(p))
	if err != nil {
		t.Fatalf("list %s: %v", filepath.Dir(p), err)
	}
	for _, e := range entries {
		if e.Path == p {
			return e
		}
	}
	t.Fatalf("entry %s not found", p)
	return remote.Entry{}
}

func TestLocalPath(t *testing.T) {
	got, err := downloader.LocalPath("/data/incoming", "/remote/tv/", "/remote/tv/Show/ep1.mkv")
	if err != nil {
		t.Fatalf("LocalPath: %v", err)
	}
	if got != filepath.Join("/data/incoming", "Show", "ep1.mkv") {
		t.Fatalf("unexpected local path %q", got)
	}
	if _, err := downloader.LocalPath("/data/incoming", "/remote/tv", "/remote/tvx/ep.mkv"); err == nil {
		t.Fatal("expected error for path outside root")
	}
	if _, err := downloader.LocalPath("/data/incoming", "/remote/tv", "/remote/tv"); err == nil {
		t.Fatal("expected error for the root itself")
	}
}

func TestRunDownloadsFilesAndDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeRemote()
	fake.AddFileContent("/remote/tv/Show/ep1.mkv", []byte("episode one"), testsupport.OldModTime)
	fake.AddFile("/remote/tv/movie.mp4", 64, testsupport.OldModTime)

	targets := []remote.Entry{
		entry(t, fake, "/remote/tv/Show"),
		entry(t, fake, "/remote/tv/Show/ep1.mkv"),
		entry(t, fake, "/remote/tv/movie.mp4"),
	}
	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(context.Background(), "/remote/tv", targets)

	if got := len(res.Completed()); got != 3 {
		t.Fatalf("expected 3 completed targets, got %d (failed %+v)", got, res.Failed())
	}
	if res.Count(downloader.OutcomeDirectory) != 1 || res.Count(downloader.OutcomeDownloaded) != 2 {
		t.Fatalf("unexpected outcomes: %+v", res.Items)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Paths.IncomingDir, "Show", "ep1.mkv"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "episode one" {
		t.Fatalf("unexpected content %q", data)
	}
	if res.Bytes() != int64(len("episode one"))+64 {
		t.Fatalf("unexpected byte count %d", res.Bytes())
	}
	for i, item := range res.Items {
		if item.Entry.Path != targets[i].Path {
			t.Fatalf("result order changed at %d: %s", i, item.Entry.Path)
		}
		if item.Record.Status != records.StatusDownloaded {
			t.Fatalf("record %s has status %s", item.Record.RemotePath, item.Record.Status)
		}
		if item.Record.CurrentPath != item.LocalPath {
			t.Fatalf("record current path %q != %q", item.Record.CurrentPath, item.LocalPath)
		}
	}
	if fake.OpenSessions() != 0 {
		t.Fatalf("expected sessions closed, %d open", fake.OpenSessions())
	}
}

func TestRunSkipsSameSizeLocalFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/remote/tv/ep.mkv", 128, testsupport.OldModTime)
	fake.AddFile("/remote/tv/other.mkv", 128, testsupport.OldModTime)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.IncomingDir, "ep.mkv"), 128)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.IncomingDir, "other.mkv"), 10)

	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(context.Background(), "/remote/tv", []remote.Entry{
		entry(t, fake, "/remote/tv/ep.mkv"),
		entry(t, fake, "/remote/tv/other.mkv"),
	})

	if res.Items[0].Outcome != downloader.OutcomeSkipped {
		t.Fatalf("expected skip, got %s", res.Items[0].Outcome)
	}
	if res.Items[0].Record == nil {
		t.Fatal("skipped target must still produce a record")
	}
	if fake.Transfers("/remote/tv/ep.mkv") != 0 {
		t.Fatal("same-size file was transferred")
	}
	if res.Items[1].Outcome != downloader.OutcomeDownloaded {
		t.Fatalf("expected size mismatch to download, got %s", res.Items[1].Outcome)
	}
	if size := testsupport.FileSize(t, filepath.Join(cfg.Paths.IncomingDir, "other.mkv")); size != 128 {
		t.Fatalf("expected overwritten file of 128 bytes, got %d", size)
	}
}

func TestRunFailureDoesNotAbortBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/remote/tv/a.mkv", 16, testsupport.OldModTime)
	fake.AddFile("/remote/tv/b.mkv", 16, testsupport.OldModTime)
	fake.AddFile("/remote/tv/c.mkv", 16, testsupport.OldModTime)
	targets := []remote.Entry{
		entry(t, fake, "/remote/tv/a.mkv"),
		entry(t, fake, "/remote/tv/b.mkv"),
		entry(t, fake, "/remote/tv/c.mkv"),
	}
	fake.FailDownload("/remote/tv/b.mkv", errors.New("connection reset"))

	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(context.Background(), "/remote/tv", targets)

	failed := res.Failed()
	if len(failed) != 1 || failed[0].Entry.Path != "/remote/tv/b.mkv" {
		t.Fatalf("expected only b.mkv to fail, got %+v", failed)
	}
	if len(res.Completed()) != 2 {
		t.Fatalf("expected two completed, got %d", len(res.Completed()))
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.IncomingDir, "b.mkv")); !os.IsNotExist(err) {
		t.Fatalf("failed transfer left a local artifact: %v", err)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Download.Workers = 2
	fake := testsupport.NewFakeRemote()
	var targets []remote.Entry
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		fake.AddFile("/remote/tv/"+name+".mkv", 8, testsupport.OldModTime)
	}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		targets = append(targets, entry(t, fake, "/remote/tv/"+name+".mkv"))
	}
	fake.SetTransferDelay(20 * time.Millisecond)
	baseline := fake.Dials()

	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(context.Background(), "/remote/tv", targets)

	if len(res.Completed()) != len(targets) {
		t.Fatalf("expected all targets complete, failed %+v", res.Failed())
	}
	if peak := fake.MaxConcurrentTransfers(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent transfers, saw %d", peak)
	}
	if dials := fake.Dials() - baseline; dials > 2 {
		t.Fatalf("expected one session per worker, got %d dials", dials)
	}
}

func TestRunTransferTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Download.TransferTimeoutSeconds = 1
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/remote/tv/slow.mkv", 8, testsupport.OldModTime)
	target := entry(t, fake, "/remote/tv/slow.mkv")
	fake.SetTransferDelay(3 * time.Second)

	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(context.Background(), "/remote/tv", []remote.Entry{target})

	if res.Items[0].Outcome != downloader.OutcomeFailed {
		t.Fatalf("expected timeout failure, got %s", res.Items[0].Outcome)
	}
	if !errors.Is(res.Items[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", res.Items[0].Err)
	}
}

func TestRunCancelledReportsUnreached(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/remote/tv/a.mkv", 8, testsupport.OldModTime)
	target := entry(t, fake, "/remote/tv/a.mkv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(ctx, "/remote/tv", []remote.Entry{target})

	if len(res.Items) != 1 || res.Items[0].Outcome != downloader.OutcomeFailed {
		t.Fatalf("expected cancelled target reported failed, got %+v", res.Items)
	}
	if fake.TotalTransfers() != 0 {
		t.Fatal("no transfer should start after cancellation")
	}
}

func TestRunVerifyAfterDownload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Download.VerifyAfterDownload = true
	cfg.Download.HashAlgorithm = "crc32"
	fake := testsupport.NewFakeRemote()
	fake.AddFileContent("/remote/tv/hello.mkv", []byte("hello world"), testsupport.OldModTime)

	d := downloader.New(fake, cfg.Paths, cfg.Download, logging.NewNop())
	res := d.Run(context.Background(), "/remote/tv", []remote.Entry{entry(t, fake, "/remote/tv/hello.mkv")})

	rec := res.Items[0].Record
	if rec == nil {
		t.Fatalf("expected record, got %+v", res.Items[0])
	}
	if rec.FileHash != "0D4A1185" || rec.HashAlgorithm != records.HashCRC32 {
		t.Fatalf("unexpected hash %q (%s)", rec.FileHash, rec.HashAlgorithm)
	}
}
