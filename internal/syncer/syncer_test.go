package syncer_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nasferry/internal/logging"
	"nasferry/internal/records"
	"nasferry/internal/services"
	"nasferry/internal/store/memory"
	"nasferry/internal/syncer"
	"nasferry/internal/testsupport"
)

func newSyncer(t *testing.T, fake *testsupport.FakeRemote, st records.Store, opts ...syncer.Option) *syncer.Syncer {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	opts = append([]syncer.Option{syncer.WithPreflight(func(int64) error { return nil })}, opts...)
	return syncer.New(cfg, fake, st, logging.NewNop(), opts...)
}

func seedTree(fake *testsupport.FakeRemote) {
	fake.AddFile("/remote/tv/Show A/ep01.mkv", 100, testsupport.OldModTime)
	fake.AddFile("/remote/tv/Show A/ep02.mkv", 100, testsupport.OldModTime)
	fake.AddFile("/remote/tv/single.mkv", 50, testsupport.OldModTime)
}

func TestIncrementalDownloadsThenIsIdempotent(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	st := memory.New()
	s := newSyncer(t, fake, st)

	summary, err := s.Incremental(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.RunID == "" || summary.Mode != syncer.ModeIncremental {
		t.Fatalf("unexpected summary header: %+v", summary)
	}
	root := summary.Roots[0]
	if root.Changed != 2 || root.Downloaded != 3 || root.Directories != 1 || root.Failed != 0 {
		t.Fatalf("unexpected first run summary: %+v", root)
	}
	if root.Persisted != 4 {
		t.Fatalf("expected 4 persisted records, got %d", root.Persisted)
	}
	rec, err := st.GetDownloadedFileByRemotePath(context.Background(), "/remote/tv/Show A/ep01.mkv")
	if err != nil || rec == nil {
		t.Fatalf("expected persisted record, got %v, %v", rec, err)
	}
	if rec.Status != records.StatusDownloaded {
		t.Fatalf("unexpected status %s", rec.Status)
	}

	for i := 0; i < 2; i++ {
		again, err := s.Incremental(context.Background())
		if err != nil {
			t.Fatalf("repeat run %d: %v", i, err)
		}
		if got := again.Roots[0]; got.Changed != 0 || got.Targets != 0 {
			t.Fatalf("repeat run %d should see no changes: %+v", i, got)
		}
	}
	if fake.TotalTransfers() != 3 {
		t.Fatalf("expected 3 transfers overall, got %d", fake.TotalTransfers())
	}
}

func TestIncrementalExpandsChangedDirectory(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	st := memory.New()
	s := newSyncer(t, fake, st)
	if _, err := s.Incremental(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	fake.AddFile("/remote/tv/Show A/ep03.mkv", 100, testsupport.OldModTime)
	fake.Touch("/remote/tv/Show A", testsupport.OldModTime.Add(time.Hour))

	summary, err := s.Incremental(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	root := summary.Roots[0]
	if root.Changed != 1 {
		t.Fatalf("expected only the directory to change, got %+v", root)
	}
	if root.Downloaded != 1 || root.Skipped != 2 {
		t.Fatalf("expected new episode downloaded and siblings skipped: %+v", root)
	}
	if fake.Transfers("/remote/tv/Show A/ep03.mkv") != 1 || fake.Transfers("/remote/tv/Show A/ep01.mkv") != 1 {
		t.Fatal("unexpected transfer counts after expansion")
	}
}

func TestIncrementalRetriesFailedTransfer(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	fake.FailDownload("/remote/tv/Show A/ep02.mkv", errors.New("connection reset"))
	st := memory.New()
	s := newSyncer(t, fake, st)

	summary, err := s.Incremental(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Failed() != 1 {
		t.Fatalf("expected one failure, got %d", summary.Failed())
	}
	snap, err := st.ListSnapshot(context.Background(), "/remote/tv")
	if err != nil {
		t.Fatalf("list snapshot: %v", err)
	}
	for _, e := range snap {
		if e.Path == "/remote/tv/Show A" {
			t.Fatal("directory with a failed transfer must stay out of the snapshot")
		}
	}
	if len(snap) != 1 {
		t.Fatalf("expected only single.mkv in snapshot, got %+v", snap)
	}

	fake.FailDownload("/remote/tv/Show A/ep02.mkv", nil)
	retry, err := s.Incremental(context.Background())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if got := retry.Roots[0]; got.Changed != 1 || got.Downloaded != 1 || got.Skipped != 1 {
		t.Fatalf("expected retry of the failed directory: %+v", got)
	}
	if fake.Transfers("/remote/tv/Show A/ep02.mkv") != 1 {
		t.Fatal("failed file was not retried")
	}
}

func TestIncrementalRootListingFailureKeepsSnapshot(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	st := memory.New()
	s := newSyncer(t, fake, st)
	if _, err := s.Incremental(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := st.ListSnapshot(context.Background(), "/remote/tv")

	fake.FailList("/remote/tv", errors.New("permission denied"))
	summary, err := s.Incremental(context.Background())
	if err != nil {
		t.Fatalf("listing failure must not abort the run: %v", err)
	}
	if got := summary.ListingFailures(); len(got) != 1 || got[0] != "/remote/tv" {
		t.Fatalf("expected listing failure for root, got %v", got)
	}
	if summary.Roots[0].ListingErr == nil {
		t.Fatal("expected listing error to be reported")
	}
	after, _ := st.ListSnapshot(context.Background(), "/remote/tv")
	if len(after) != len(before) {
		t.Fatalf("snapshot changed after failed listing: %d -> %d", len(before), len(after))
	}
}

func TestFullSnapshotOnlyEstablishesBaseline(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	st := memory.New()
	s := newSyncer(t, fake, st)

	summary, err := s.Full(context.Background(), syncer.Options{SnapshotOnly: true})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if summary.Mode != syncer.ModeFull || summary.Roots[0].Listed != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if fake.TotalTransfers() != 0 {
		t.Fatal("snapshot-only must not download")
	}
	snap, _ := st.ListSnapshot(context.Background(), "/remote/tv")
	if len(snap) != 4 {
		t.Fatalf("expected recursive snapshot of 4 entries, got %d", len(snap))
	}

	inc, err := s.Incremental(context.Background())
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if inc.Roots[0].Changed != 0 {
		t.Fatalf("incremental after baseline should be empty: %+v", inc.Roots[0])
	}
}

func TestFullSkipsRoutedRecords(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	st := memory.New()
	s := newSyncer(t, fake, st)
	ctx := context.Background()
	if _, err := s.Incremental(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	rec, _ := st.GetDownloadedFileByRemotePath(ctx, "/remote/tv/single.mkv")
	if _, err := st.MarkDownloadedFileProcessing(ctx, rec.ID, time.Now()); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "single.mkv")
	if err := st.UpdateDownloadedFileLocation(ctx, rec.ID, dest, records.StatusRouted, time.Now()); err != nil {
		t.Fatalf("route: %v", err)
	}

	summary, err := s.Full(ctx, syncer.Options{})
	if err != nil {
		t.Fatalf("full run: %v", err)
	}
	root := summary.Roots[0]
	if root.AlreadyRouted != 1 {
		t.Fatalf("expected routed record to be skipped: %+v", root)
	}
	if fake.Transfers("/remote/tv/single.mkv") != 1 {
		t.Fatal("routed file downloaded again")
	}
	after, _ := st.GetDownloadedFileByID(ctx, rec.ID)
	if after.Status != records.StatusRouted || after.CurrentPath != dest {
		t.Fatalf("routed record was disturbed: %+v", after)
	}
}

func TestPreflightFailureAborts(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	seedTree(fake)
	st := memory.New()
	var asked int64
	s := newSyncer(t, fake, st, syncer.WithPreflight(func(batch int64) error {
		asked = batch
		return services.Wrap(services.ErrConfiguration, "preflight", "free space", "not enough space", nil)
	}))

	_, err := s.Incremental(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if asked != 250 {
		t.Fatalf("expected batch of 250 bytes, got %d", asked)
	}
	if fake.TotalTransfers() != 0 {
		t.Fatal("no transfer should run after a failed preflight")
	}
	snap, _ := st.ListSnapshot(context.Background(), "/remote/tv")
	if len(snap) != 0 {
		t.Fatal("snapshot must not be committed after abort")
	}
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newSettlingSyncer(t *testing.T, fake *testsupport.FakeRemote, st records.Store, clock *stepClock) *syncer.Syncer {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithSettleSeconds(300))
	return syncer.New(cfg, fake, st, logging.NewNop(),
		syncer.WithPreflight(func(int64) error { return nil }),
		syncer.WithClock(clock.Now),
	)
}

func TestIncrementalRevisitsDirectoryWithSettlingFile(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	fake := testsupport.NewFakeRemote()
	fake.AddDir("/remote/tv/Show B", clock.now.Add(-time.Hour))
	fake.AddFile("/remote/tv/Show B/ep01.mkv", 100, clock.now.Add(-time.Minute))
	st := memory.New()
	s := newSettlingSyncer(t, fake, st, clock)
	ctx := context.Background()

	first, err := s.Incremental(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := first.Roots[0]; got.Changed != 1 || got.Downloaded != 0 || got.Settling != 1 {
		t.Fatalf("expected the directory expanded with its file still settling: %+v", got)
	}
	snap, _ := st.ListSnapshot(ctx, "/remote/tv")
	for _, e := range snap {
		if e.Path == "/remote/tv/Show B" {
			t.Fatal("directory with a settling file must stay out of the snapshot")
		}
	}

	clock.now = clock.now.Add(10 * time.Minute)
	second, err := s.Incremental(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := second.Roots[0]; got.Changed != 1 || got.Downloaded != 1 || got.Settling != 0 {
		t.Fatalf("expected the settled file to be downloaded: %+v", got)
	}
	if fake.Transfers("/remote/tv/Show B/ep01.mkv") != 1 {
		t.Fatalf("expected one transfer of the settled file, got %d", fake.Transfers("/remote/tv/Show B/ep01.mkv"))
	}

	third, err := s.Incremental(ctx)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if got := third.Roots[0]; got.Changed != 0 {
		t.Fatalf("directory should be settled into the snapshot: %+v", got)
	}
}

func TestBaselineLeavesOutDirectoryWithSettlingFile(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	fake := testsupport.NewFakeRemote()
	fake.AddDir("/remote/tv/Show B", clock.now.Add(-time.Hour))
	fake.AddFile("/remote/tv/Show B/ep01.mkv", 100, clock.now.Add(-time.Minute))
	fake.AddFile("/remote/tv/old.mkv", 100, testsupport.OldModTime)
	st := memory.New()
	s := newSettlingSyncer(t, fake, st, clock)
	ctx := context.Background()

	if _, err := s.Full(ctx, syncer.Options{SnapshotOnly: true}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	snap, _ := st.ListSnapshot(ctx, "/remote/tv")
	if len(snap) != 1 || snap[0].Path != "/remote/tv/old.mkv" {
		t.Fatalf("expected only the settled file in the baseline, got %+v", snap)
	}

	clock.now = clock.now.Add(10 * time.Minute)
	inc, err := s.Incremental(ctx)
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if got := inc.Roots[0]; got.Changed != 1 || got.Downloaded != 1 {
		t.Fatalf("expected the directory to be expanded once settled: %+v", got)
	}
	if fake.Transfers("/remote/tv/old.mkv") != 0 {
		t.Fatal("baseline entry must not be downloaded")
	}
}
