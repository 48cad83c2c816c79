package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"nasferry/internal/config"
	"nasferry/internal/logging"
	"nasferry/internal/remote"
	"nasferry/internal/testsupport"
)

func newCrawler(fake *testsupport.FakeRemote) *remote.Crawler {
	cfg := config.Default().Crawl
	cfg.SettleSeconds = 0
	return remote.NewCrawler(fake, remote.NewFilter(cfg), logging.NewNop())
}

func paths(entries []remote.Entry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Path] = true
	}
	return out
}

func TestListShallowDialsAndCloses(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/remote/tv/a.mkv", 10, testsupport.OldModTime)
	fake.AddFile("/remote/tv/Show/b.mkv", 10, testsupport.OldModTime)

	listing := newCrawler(fake).List(context.Background(), "/remote/tv", false)
	if !listing.Complete() {
		t.Fatalf("unexpected failures %v", listing.Failures)
	}
	got := paths(listing.Entries)
	if len(got) != 2 || !got["/remote/tv/a.mkv"] || !got["/remote/tv/Show"] {
		t.Fatalf("unexpected shallow listing %v", got)
	}
	if fake.Dials() != 1 || fake.OpenSessions() != 0 {
		t.Fatalf("expected one dial and no leaked session, got %d/%d", fake.Dials(), fake.OpenSessions())
	}
}

func TestWalkRecursiveEmitsDirectoriesAndSkipsFiltered(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/remote/tv/Show/S01/e1.mkv", 10, testsupport.OldModTime)
	fake.AddFile("/remote/tv/Show/S01/e1.nfo", 10, testsupport.OldModTime)
	fake.AddFile("/remote/tv/Show/Sample/s.mkv", 10, testsupport.OldModTime)

	listing := newCrawler(fake).List(context.Background(), "/remote/tv", true)
	got := paths(listing.Entries)
	for _, want := range []string{"/remote/tv/Show", "/remote/tv/Show/S01", "/remote/tv/Show/S01/e1.mkv"} {
		if !got[want] {
			t.Fatalf("expected %s in %v", want, got)
		}
	}
	if got["/remote/tv/Show/S01/e1.nfo"] || got["/remote/tv/Show/Sample"] || got["/remote/tv/Show/Sample/s.mkv"] {
		t.Fatalf("filtered entries leaked into listing: %v", got)
	}
}

func TestWalkReusesSession(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/r/a/b/c/d.mkv", 10, testsupport.OldModTime)
	sess, err := fake.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	crawler := newCrawler(fake)
	count := 0
	for range crawler.Walk(context.Background(), sess, "/r", true, remote.WalkHooks{}) {
		count++
	}
	if count != 4 {
		t.Fatalf("expected 4 entries, got %d", count)
	}
	if fake.Dials() != 1 {
		t.Fatalf("recursive walk must reuse the session, saw %d dials", fake.Dials())
	}
}

func TestWalkStopsEarly(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	for _, name := range []string{"a", "b", "c"} {
		fake.AddFile("/r/"+name+".mkv", 1, testsupport.OldModTime)
	}
	sess, _ := fake.Dial(context.Background())
	defer sess.Close()
	for entry := range newCrawler(fake).Walk(context.Background(), sess, "/r", false, remote.WalkHooks{}) {
		if entry.Name != "a.mkv" {
			t.Fatalf("expected sorted first entry, got %s", entry.Name)
		}
		break
	}
}

func TestListingFailureIsDistinctFromEmpty(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddDir("/remote/empty", testsupport.OldModTime)
	fake.AddFile("/remote/tv/Show/e.mkv", 1, testsupport.OldModTime)
	fake.FailList("/remote/tv/Show", errors.New("connection reset"))
	crawler := newCrawler(fake)

	empty := crawler.List(context.Background(), "/remote/empty", true)
	if !empty.Complete() || len(empty.Entries) != 0 {
		t.Fatalf("expected confirmed empty listing, got %+v", empty)
	}

	partial := crawler.List(context.Background(), "/remote/tv", true)
	if partial.Complete() || partial.RootFailed() {
		t.Fatalf("expected subdirectory failure only, got %+v", partial.Failures)
	}
	if len(partial.Entries) != 1 || partial.Entries[0].Path != "/remote/tv/Show" {
		t.Fatalf("expected only the directory entry, got %+v", partial.Entries)
	}
	if partial.Err() == nil {
		t.Fatal("expected joined failure error")
	}

	fake.FailDial(errors.New("no route to host"))
	failed := crawler.List(context.Background(), "/remote/tv", false)
	if !failed.RootFailed() || len(failed.Entries) != 0 {
		t.Fatalf("expected root failure on dial error, got %+v", failed)
	}
}

func TestSettleWindowHidesRecentUploads(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/r/old.mkv", 1, now.Add(-10*time.Minute))
	fake.AddFile("/r/new.mkv", 1, now.Add(-time.Minute))

	crawler := remote.NewCrawler(fake, remote.NewFilter(config.Default().Crawl), logging.NewNop(),
		remote.WithClock(func() time.Time { return now }))
	listing := crawler.List(context.Background(), "/r", false)
	got := paths(listing.Entries)
	if !got["/r/old.mkv"] || got["/r/new.mkv"] {
		t.Fatalf("unexpected settle filtering: %v", got)
	}
	if len(listing.Settling) != 1 || listing.Settling[0].Path != "/r/new.mkv" {
		t.Fatalf("expected new.mkv reported as settling, got %+v", listing.Settling)
	}
	if pending := listing.Pending(); len(pending) != 1 || pending[0] != "/r/new.mkv" {
		t.Fatalf("expected settling entry in pending paths, got %v", pending)
	}
}

func TestSettlingReportedFromNestedDirectories(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fake := testsupport.NewFakeRemote()
	fake.AddDir("/r/Show", now.Add(-time.Hour))
	fake.AddFile("/r/Show/ep01.mkv", 1, now.Add(-time.Minute))
	fake.AddFile("/r/Show/ep02.mkv", 1, now.Add(-time.Hour))
	fake.AddFile("/r/Show/notes.nfo", 1, now.Add(-time.Hour))

	crawler := remote.NewCrawler(fake, remote.NewFilter(config.Default().Crawl), logging.NewNop(),
		remote.WithClock(func() time.Time { return now }))
	listing := crawler.List(context.Background(), "/r", true)
	if !listing.Complete() {
		t.Fatalf("unexpected failures: %v", listing.Failures)
	}
	if len(listing.Settling) != 1 || listing.Settling[0].Path != "/r/Show/ep01.mkv" {
		t.Fatalf("only the recent file should be reported, got %+v", listing.Settling)
	}
}

func TestWalkHonoursCancellation(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddFile("/r/a.mkv", 1, testsupport.OldModTime)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess, _ := fake.Dial(context.Background())
	defer sess.Close()

	listing := newCrawler(fake).ListWith(ctx, sess, "/r", true)
	if len(listing.Entries) != 0 || !listing.RootFailed() {
		t.Fatalf("expected cancelled crawl to fail the root, got %+v", listing)
	}
	if !errors.Is(listing.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", listing.Err())
	}
}
