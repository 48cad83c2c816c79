// Package storetest is the conformance suite every persistence backend runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/shows"
)

// Backend is the contract under test.
type Backend interface {
	records.Store
	shows.Registry
}

// Factory opens an empty backend and registers its cleanup on t.
type Factory func(t *testing.T) Backend

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the full suite against backends produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, st Backend)
	}{
		{"UpsertAssignsIDAndRoundTrips", testUpsertRoundTrip},
		{"UpsertSameContentKeepsLifecycle", testUpsertSameContent},
		{"UpsertChangedContentRestarts", testUpsertChangedContent},
		{"UpsertBatchIsAtomic", testUpsertBatchAtomic},
		{"LookupsMissReturnNil", testLookupsMiss},
		{"UpdatesOnMissingIDReturnNotFound", testUpdatesMissing},
		{"MarkProcessingCompareAndSet", testMarkProcessing},
		{"UpdateLocationAndStatus", testUpdateLocation},
		{"StatusOverrideClearsMessage", testStatusOverride},
		{"RoutingAndHash", testRoutingAndHash},
		{"CompleteRoutingWritesEverything", testCompleteRouting},
		{"GetByStatus", testGetByStatus},
		{"Search", testSearch},
		{"SnapshotReplaceInsertDiff", testSnapshot},
		{"CommitSync", testCommitSync},
		{"ShowRegistry", testShowRegistry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func entryAt(p string, size int64, mod time.Time) remote.Entry {
	dir, name := splitPath(p)
	return remote.NewEntry(dir, name, size, mod, false, baseTime)
}

func splitPath(p string) (string, string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}
	return "", p
}

func newRecord(t *testing.T, p string, size int64) *records.FileRecord {
	t.Helper()
	_, name := splitPath(p)
	rec, err := records.NewFileRecord(entryAt(p, size, baseTime), "/incoming/"+name)
	if err != nil {
		t.Fatalf("NewFileRecord: %v", err)
	}
	return rec
}

// SampleRecord returns a valid DOWNLOADED video record for remotePath.
func SampleRecord(t *testing.T, remotePath string) *records.FileRecord {
	t.Helper()
	return newRecord(t, remotePath, 1024)
}

func mustUpsert(t *testing.T, st Backend, rec *records.FileRecord) *records.FileRecord {
	t.Helper()
	out, err := st.UpsertDownloadedFile(context.Background(), rec)
	if err != nil {
		t.Fatalf("UpsertDownloadedFile: %v", err)
	}
	return out
}

func intPtr(v int) *int { return &v }

func testUpsertRoundTrip(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/Show.S01E01.mkv", 1024))
	if saved.ID <= 0 {
		t.Fatalf("expected positive id, got %d", saved.ID)
	}
	got, err := st.GetDownloadedFileByID(ctx, saved.ID)
	if err != nil || got == nil {
		t.Fatalf("GetDownloadedFileByID: %v %v", got, err)
	}
	if got.RemotePath != "/remote/tv/Show.S01E01.mkv" || got.CurrentPath != "/incoming/Show.S01E01.mkv" {
		t.Fatalf("unexpected paths: %+v", got)
	}
	if got.Size != 1024 || got.Status != records.StatusDownloaded || got.IsDir {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.ModTime.Equal(baseTime) {
		t.Fatalf("modtime = %v, want %v", got.ModTime, baseTime)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", got)
	}
	byPath, err := st.GetDownloadedFileByRemotePath(ctx, saved.RemotePath)
	if err != nil || byPath == nil || byPath.ID != saved.ID {
		t.Fatalf("GetDownloadedFileByRemotePath: %v %v", byPath, err)
	}

	invalid := newRecord(t, "/remote/tv/bad.mkv", 1)
	invalid.CurrentPath = invalid.RemotePath
	if _, err := st.UpsertDownloadedFile(ctx, invalid); !errors.Is(err, records.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func testUpsertSameContent(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/a.mkv", 10))
	if _, err := st.MarkDownloadedFileProcessing(ctx, saved.ID, baseTime); err != nil {
		t.Fatalf("MarkDownloadedFileProcessing: %v", err)
	}
	if err := st.UpdateDownloadedFileLocation(ctx, saved.ID, "/library/A/a.mkv", records.StatusRouted, baseTime); err != nil {
		t.Fatalf("UpdateDownloadedFileLocation: %v", err)
	}

	again := newRecord(t, "/remote/tv/a.mkv", 10)
	again.FetchedAt = baseTime.Add(time.Hour)
	merged := mustUpsert(t, st, again)
	if merged.ID != saved.ID {
		t.Fatalf("id changed: %d -> %d", saved.ID, merged.ID)
	}
	if merged.Status != records.StatusRouted || merged.CurrentPath != "/library/A/a.mkv" {
		t.Fatalf("lifecycle not kept: %+v", merged)
	}
	if merged.RoutingAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", merged.RoutingAttempts)
	}
	if !merged.FetchedAt.Equal(baseTime.Add(time.Hour)) {
		t.Fatalf("fetched_at not advanced: %v", merged.FetchedAt)
	}
}

func testUpsertChangedContent(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/b.mkv", 10))
	if err := st.MarkDownloadedFileError(ctx, saved.ID, "boom"); err != nil {
		t.Fatalf("MarkDownloadedFileError: %v", err)
	}
	changed := newRecord(t, "/remote/tv/b.mkv", 20)
	merged := mustUpsert(t, st, changed)
	if merged.ID != saved.ID {
		t.Fatalf("id changed: %d -> %d", saved.ID, merged.ID)
	}
	if merged.Size != 20 || merged.Status != records.StatusDownloaded || merged.ErrorMessage != "" {
		t.Fatalf("record not restarted: %+v", merged)
	}
	if !merged.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", saved.CreatedAt, merged.CreatedAt)
	}
}

func testUpsertBatchAtomic(t *testing.T, st Backend) {
	ctx := context.Background()
	good := newRecord(t, "/remote/tv/good.mkv", 1)
	bad := newRecord(t, "/remote/tv/bad.mkv", 1)
	bad.Size = -1
	if _, err := st.UpsertDownloadedFiles(ctx, []*records.FileRecord{good, bad}); err == nil {
		t.Fatal("expected batch error")
	}
	got, err := st.GetDownloadedFileByRemotePath(ctx, good.RemotePath)
	if err != nil {
		t.Fatalf("GetDownloadedFileByRemotePath: %v", err)
	}
	if got != nil {
		t.Fatalf("partial batch persisted: %+v", got)
	}

	out, err := st.UpsertDownloadedFiles(ctx, []*records.FileRecord{good, newRecord(t, "/remote/tv/other.mkv", 2)})
	if err != nil {
		t.Fatalf("UpsertDownloadedFiles: %v", err)
	}
	if len(out) != 2 || out[0].ID == out[1].ID {
		t.Fatalf("unexpected batch result: %+v", out)
	}
}

func testLookupsMiss(t *testing.T, st Backend) {
	ctx := context.Background()
	if rec, err := st.GetDownloadedFileByID(ctx, 999); rec != nil || err != nil {
		t.Fatalf("GetDownloadedFileByID miss: %v %v", rec, err)
	}
	if rec, err := st.GetDownloadedFileByRemotePath(ctx, "/nope"); rec != nil || err != nil {
		t.Fatalf("GetDownloadedFileByRemotePath miss: %v %v", rec, err)
	}
	if show, err := st.GetShow(ctx, 42); show != nil || err != nil {
		t.Fatalf("GetShow miss: %v %v", show, err)
	}
	if show, err := st.FindShowByNameOrAlias(ctx, "nothing"); show != nil || err != nil {
		t.Fatalf("FindShowByNameOrAlias miss: %v %v", show, err)
	}
}

func testUpdatesMissing(t *testing.T, st Backend) {
	ctx := context.Background()
	checks := map[string]error{
		"location": st.UpdateDownloadedFileLocation(ctx, 999, "/x", records.StatusRouted, baseTime),
		"error":    st.MarkDownloadedFileError(ctx, 999, "boom"),
		"status":   st.UpdateDownloadedFileStatus(ctx, 999, records.StatusDeleted, nil),
		"routing":  st.UpdateDownloadedFileRouting(ctx, 999, records.Routing{ShowName: "x"}),
		"complete": st.CompleteDownloadedFileRouting(ctx, 999, "/x", records.Routing{ShowName: "x"}, baseTime),
		"hash":     st.UpdateDownloadedFileHash(ctx, 999, "abcd", records.HashCRC32),
	}
	_, err := st.MarkDownloadedFileProcessing(ctx, 999, baseTime)
	checks["processing"] = err
	for name, err := range checks {
		if !errors.Is(err, records.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func testMarkProcessing(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/p.mkv", 1))
	at := baseTime.Add(time.Minute)
	rec, err := st.MarkDownloadedFileProcessing(ctx, saved.ID, at)
	if err != nil {
		t.Fatalf("MarkDownloadedFileProcessing: %v", err)
	}
	if rec.Status != records.StatusProcessing || rec.RoutingAttempts != 1 || !rec.LastRoutingAttempt.Equal(at) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := st.MarkDownloadedFileProcessing(ctx, saved.ID, at); !errors.Is(err, records.ErrInvalidTransition) {
		t.Fatalf("second claim: expected ErrInvalidTransition, got %v", err)
	}
	if err := st.MarkDownloadedFileError(ctx, saved.ID, "no match"); err != nil {
		t.Fatalf("MarkDownloadedFileError: %v", err)
	}
	rec, err = st.MarkDownloadedFileProcessing(ctx, saved.ID, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if rec.RoutingAttempts != 2 {
		t.Fatalf("attempts = %d, want 2", rec.RoutingAttempts)
	}
}

func testUpdateLocation(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/l.mkv", 1))
	if err := st.MarkDownloadedFileError(ctx, saved.ID, "boom"); err != nil {
		t.Fatalf("MarkDownloadedFileError: %v", err)
	}
	if err := st.UpdateDownloadedFileLocation(ctx, saved.ID, saved.RemotePath, records.StatusRouted, baseTime); !errors.Is(err, records.ErrInvalidRecord) {
		t.Fatalf("same path: expected ErrInvalidRecord, got %v", err)
	}
	if err := st.UpdateDownloadedFileLocation(ctx, saved.ID, "", records.StatusRouted, baseTime); !errors.Is(err, records.ErrInvalidRecord) {
		t.Fatalf("empty routed path: expected ErrInvalidRecord, got %v", err)
	}
	if err := st.UpdateDownloadedFileLocation(ctx, saved.ID, "/library/S/l.mkv", records.StatusRouted, baseTime); err != nil {
		t.Fatalf("UpdateDownloadedFileLocation: %v", err)
	}
	got, _ := st.GetDownloadedFileByID(ctx, saved.ID)
	if got.CurrentPath != "/library/S/l.mkv" || got.Status != records.StatusRouted || got.ErrorMessage != "" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func testStatusOverride(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/s.mkv", 1))
	if err := st.MarkDownloadedFileError(ctx, saved.ID, "boom"); err != nil {
		t.Fatalf("MarkDownloadedFileError: %v", err)
	}
	got, _ := st.GetDownloadedFileByID(ctx, saved.ID)
	if got.Status != records.StatusError || got.ErrorMessage != "boom" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if err := st.UpdateDownloadedFileStatus(ctx, saved.ID, records.StatusDownloaded, nil); err != nil {
		t.Fatalf("UpdateDownloadedFileStatus: %v", err)
	}
	got, _ = st.GetDownloadedFileByID(ctx, saved.ID)
	if got.Status != records.StatusDownloaded || got.ErrorMessage != "" {
		t.Fatalf("override not applied: %+v", got)
	}
	if err := st.UpdateDownloadedFileStatus(ctx, saved.ID, records.Status("bogus"), nil); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func testCompleteRouting(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/c.mkv", 1))
	routing := records.Routing{ShowName: "Show", Season: intPtr(2), Episode: intPtr(5), Confidence: 0.8, Reasoning: "regex", ShowID: 12}
	dest := "/library/Show/Season 02/c.mkv"

	if err := st.CompleteDownloadedFileRouting(ctx, saved.ID, dest, routing, baseTime); !errors.Is(err, records.ErrInvalidTransition) {
		t.Fatalf("unclaimed record: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := st.MarkDownloadedFileProcessing(ctx, saved.ID, baseTime); err != nil {
		t.Fatalf("MarkDownloadedFileProcessing: %v", err)
	}
	if err := st.CompleteDownloadedFileRouting(ctx, saved.ID, "", routing, baseTime); !errors.Is(err, records.ErrInvalidRecord) {
		t.Fatalf("empty path: expected ErrInvalidRecord, got %v", err)
	}
	if err := st.CompleteDownloadedFileRouting(ctx, saved.ID, dest, records.Routing{Confidence: 2}, baseTime); !errors.Is(err, records.ErrInvalidRecord) {
		t.Fatalf("bad routing: expected ErrInvalidRecord, got %v", err)
	}
	got, _ := st.GetDownloadedFileByID(ctx, saved.ID)
	if got.Status != records.StatusProcessing || got.CurrentPath != "/incoming/c.mkv" || got.Routing.ShowName != "" {
		t.Fatalf("rejected completion left partial state: %+v", got)
	}

	at := baseTime.Add(time.Minute)
	if err := st.CompleteDownloadedFileRouting(ctx, saved.ID, dest, routing, at); err != nil {
		t.Fatalf("CompleteDownloadedFileRouting: %v", err)
	}
	got, _ = st.GetDownloadedFileByID(ctx, saved.ID)
	if got.Status != records.StatusRouted || got.CurrentPath != dest || got.ErrorMessage != "" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Routing.ShowName != "Show" || got.Routing.ShowID != 12 || got.Routing.Episode == nil || *got.Routing.Episode != 5 {
		t.Fatalf("routing not stored: %+v", got.Routing)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, at)
	}
	if err := st.CompleteDownloadedFileRouting(ctx, saved.ID, dest, routing, at); !errors.Is(err, records.ErrInvalidTransition) {
		t.Fatalf("second completion: expected ErrInvalidTransition, got %v", err)
	}
}

func testRoutingAndHash(t *testing.T, st Backend) {
	ctx := context.Background()
	saved := mustUpsert(t, st, newRecord(t, "/remote/tv/r.mkv", 1))
	routing := records.Routing{ShowName: "Show", Season: intPtr(1), Episode: intPtr(0), Confidence: 0.9, Reasoning: "regex", ShowID: 77}
	if err := st.UpdateDownloadedFileRouting(ctx, saved.ID, routing); err != nil {
		t.Fatalf("UpdateDownloadedFileRouting: %v", err)
	}
	if err := st.UpdateDownloadedFileRouting(ctx, saved.ID, records.Routing{Confidence: 2}); !errors.Is(err, records.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if err := st.UpdateDownloadedFileHash(ctx, saved.ID, "deadbeef", records.HashCRC32); err != nil {
		t.Fatalf("UpdateDownloadedFileHash: %v", err)
	}
	got, _ := st.GetDownloadedFileByID(ctx, saved.ID)
	if got.Routing.ShowName != "Show" || got.Routing.ShowID != 77 || got.Routing.Confidence != 0.9 {
		t.Fatalf("routing not stored: %+v", got.Routing)
	}
	if got.Routing.Season == nil || *got.Routing.Season != 1 || got.Routing.Episode == nil || *got.Routing.Episode != 0 {
		t.Fatalf("season/episode not stored: %+v", got.Routing)
	}
	if got.FileHash != "deadbeef" || got.HashAlgorithm != records.HashCRC32 {
		t.Fatalf("hash not stored: %q %q", got.FileHash, got.HashAlgorithm)
	}
}

func testGetByStatus(t *testing.T, st Backend) {
	ctx := context.Background()
	a := mustUpsert(t, st, newRecord(t, "/remote/tv/1.mkv", 1))
	mustUpsert(t, st, newRecord(t, "/remote/tv/2.mkv", 1))
	if err := st.MarkDownloadedFileError(ctx, a.ID, "x"); err != nil {
		t.Fatalf("MarkDownloadedFileError: %v", err)
	}
	downloaded, err := st.GetDownloadedFilesByStatus(ctx, records.StatusDownloaded)
	if err != nil {
		t.Fatalf("GetDownloadedFilesByStatus: %v", err)
	}
	if len(downloaded) != 1 || downloaded[0].Name != "2.mkv" {
		t.Fatalf("unexpected downloaded set: %+v", downloaded)
	}
	failed, _ := st.GetDownloadedFilesByStatus(ctx, records.StatusError)
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("unexpected error set: %+v", failed)
	}
}

func testSearch(t *testing.T, st Backend) {
	ctx := context.Background()
	for i, name := range []string{"Alpha.S01E01.mkv", "Alpha.S01E02.mkv", "Beta_100%.mkv", "cover.jpg", "notes.txt"} {
		mustUpsert(t, st, newRecord(t, "/remote/tv/"+name, int64(100*(i+1))))
	}
	dir := remote.NewEntry("/remote/tv", "season pack", 0, baseTime, true, baseTime)
	dirRec, err := records.NewFileRecord(dir, "/incoming/season pack")
	if err != nil {
		t.Fatalf("NewFileRecord: %v", err)
	}
	mustUpsert(t, st, dirRec)

	results, total, err := st.SearchDownloadedFiles(ctx, records.SearchParams{Query: "alpha", SortBy: "name", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("SearchDownloadedFiles: %v", err)
	}
	if total != 2 || len(results) != 2 || results[0].Name != "Alpha.S01E01.mkv" {
		t.Fatalf("query search: total=%d results=%v", total, names(results))
	}

	results, total, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{Query: "100%"})
	if total != 1 || results[0].Name != "Beta_100%.mkv" {
		t.Fatalf("escaped search: total=%d results=%v", total, names(results))
	}
	if _, total, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{Query: "a_p"}); total != 0 {
		t.Fatalf("underscore must be literal, total=%d", total)
	}

	results, total, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{FileType: records.FileTypeVideo})
	if total != 3 {
		t.Fatalf("video filter: total=%d results=%v", total, names(results))
	}
	results, total, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{FileType: records.FileTypeImage})
	if total != 1 || results[0].Name != "cover.jpg" {
		t.Fatalf("image filter: total=%d results=%v", total, names(results))
	}
	results, total, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{FileType: records.FileTypeUnknown, SortBy: "name", SortOrder: "asc"})
	if total != 2 || results[0].Name != "notes.txt" || results[1].Name != "season pack" {
		t.Fatalf("unknown filter: total=%d results=%v", total, names(results))
	}

	results, total, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{SortBy: "size", SortOrder: "desc", Page: 2, PageSize: 2})
	if total != 6 || len(results) != 2 {
		t.Fatalf("paging: total=%d results=%v", total, names(results))
	}
	if results[0].Size != 300 || results[1].Size != 200 {
		t.Fatalf("paging order: %v", names(results))
	}

	results, _, _ = st.SearchDownloadedFiles(ctx, records.SearchParams{SortBy: "drop table", SortOrder: "asc"})
	if len(results) != 6 || results[0].ID > results[len(results)-1].ID {
		t.Fatalf("unknown sort key must fall back to id: %v", names(results))
	}
}

func names(recs []*records.FileRecord) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fmt.Sprintf("%s(%d)", rec.Name, rec.Size))
	}
	return out
}

func testSnapshot(t *testing.T, st Backend) {
	ctx := context.Background()
	root := "/remote/tv"
	a := entryAt(root+"/a.mkv", 1, baseTime)
	b := entryAt(root+"/b.mkv", 2, baseTime)
	c := entryAt(root+"/c.mkv", 3, baseTime)

	if err := st.ReplaceSnapshot(ctx, root, []remote.Entry{a, b}); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	if err := st.InsertSnapshot(ctx, "/other", []remote.Entry{c}); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	touched := entryAt(root+"/b.mkv", 2, baseTime.Add(time.Minute))
	diff, err := st.DiffSnapshot(ctx, root, []remote.Entry{a, touched, c, c})
	if err != nil {
		t.Fatalf("DiffSnapshot: %v", err)
	}
	if len(diff) != 2 || diff[0].Path != touched.Path || !diff[0].ModTime.Equal(touched.ModTime) || diff[1].Path != c.Path {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if diff, err := st.DiffSnapshot(ctx, root, nil); err != nil || len(diff) != 0 {
		t.Fatalf("empty diff: %v %v", diff, err)
	}

	if err := st.InsertSnapshot(ctx, root, []remote.Entry{a, c}); err != nil {
		t.Fatalf("InsertSnapshot duplicate: %v", err)
	}
	listed, err := st.ListSnapshot(ctx, root)
	if err != nil {
		t.Fatalf("ListSnapshot: %v", err)
	}
	if len(listed) != 3 || listed[0].Path != a.Path || listed[2].Path != c.Path {
		t.Fatalf("unexpected snapshot: %+v", listed)
	}
	if !listed[0].ModTime.Equal(baseTime) || listed[0].Size != 1 {
		t.Fatalf("entry not round-tripped: %+v", listed[0])
	}

	if err := st.ReplaceSnapshot(ctx, root, []remote.Entry{c}); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	listed, _ = st.ListSnapshot(ctx, root)
	if len(listed) != 1 || listed[0].Path != c.Path {
		t.Fatalf("replace did not clear: %+v", listed)
	}
	other, _ := st.ListSnapshot(ctx, "/other")
	if len(other) != 1 {
		t.Fatalf("other root affected: %+v", other)
	}
}

func testCommitSync(t *testing.T, st Backend) {
	ctx := context.Background()
	root := "/remote/tv"
	a := entryAt(root+"/a.mkv", 1, baseTime)
	rec := newRecord(t, root+"/a.mkv", 1)
	out, err := st.CommitSync(ctx, records.SyncBatch{
		Root:            root,
		ReplaceSnapshot: true,
		Snapshot:        []remote.Entry{a},
		Files:           []*records.FileRecord{rec},
	})
	if err != nil {
		t.Fatalf("CommitSync: %v", err)
	}
	if len(out) != 1 || out[0].ID <= 0 {
		t.Fatalf("unexpected commit result: %+v", out)
	}
	listed, _ := st.ListSnapshot(ctx, root)
	if len(listed) != 1 {
		t.Fatalf("snapshot not written: %+v", listed)
	}

	bad := newRecord(t, root+"/b.mkv", 1)
	bad.Status = records.Status("bogus")
	_, err = st.CommitSync(ctx, records.SyncBatch{
		Root:            root,
		ReplaceSnapshot: true,
		Snapshot:        []remote.Entry{entryAt(root+"/b.mkv", 1, baseTime)},
		Files:           []*records.FileRecord{bad},
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	listed, _ = st.ListSnapshot(ctx, root)
	if len(listed) != 1 || listed[0].Path != a.Path {
		t.Fatalf("failed commit changed snapshot: %+v", listed)
	}

	if _, err := st.CommitSync(ctx, records.SyncBatch{Root: root}); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	listed, _ = st.ListSnapshot(ctx, root)
	if len(listed) != 1 {
		t.Fatalf("commit without replace changed snapshot: %+v", listed)
	}
}

func testShowRegistry(t *testing.T, st Backend) {
	ctx := context.Background()
	show := &shows.Show{
		ID:           1429,
		SystemName:   "Attack on Titan",
		SystemPath:   "/library/Attack on Titan",
		TMDBName:     "Attack on Titan",
		Aliases:      []string{"Shingeki no Kyojin", "Attack.on.Titan"},
		FirstAirDate: "2013-04-07",
		Status:       "Ended",
		SeasonCount:  4,
		EpisodeCount: 2,
	}
	episodes := []shows.Episode{
		{ShowID: 1429, Season: 1, Episode: 2, AbsoluteEpisode: 2, Title: "That Day"},
		{ShowID: 1429, Season: 1, Episode: 1, AbsoluteEpisode: 1, Title: "To You", TMDBEpisodeID: 9},
	}
	if err := st.SaveShow(ctx, show, episodes); err != nil {
		t.Fatalf("SaveShow: %v", err)
	}
	if err := st.SaveShow(ctx, &shows.Show{ID: 0, SystemName: "x", SystemPath: "/x"}, nil); !errors.Is(err, shows.ErrInvalidShow) {
		t.Fatalf("expected ErrInvalidShow, got %v", err)
	}

	got, err := st.GetShow(ctx, 1429)
	if err != nil || got == nil {
		t.Fatalf("GetShow: %v %v", got, err)
	}
	if got.SystemPath != show.SystemPath || got.FirstAirDate != "2013-04-07" || len(got.Aliases) != 2 {
		t.Fatalf("unexpected show: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	for _, name := range []string{"attack on titan", "SHINGEKI NO KYOJIN", "attack.on.titan", "  Attack   on Titan "} {
		found, err := st.FindShowByNameOrAlias(ctx, name)
		if err != nil || found == nil || found.ID != 1429 {
			t.Fatalf("FindShowByNameOrAlias(%q) = %v, %v", name, found, err)
		}
	}

	eps, err := st.GetEpisodesForShow(ctx, 1429)
	if err != nil {
		t.Fatalf("GetEpisodesForShow: %v", err)
	}
	if len(eps) != 2 || eps[0].Episode != 1 || eps[0].TMDBEpisodeID != 9 || eps[1].Title != "That Day" {
		t.Fatalf("unexpected episodes: %+v", eps)
	}

	show.Aliases = []string{"AoT"}
	if err := st.SaveShow(ctx, show, episodes[:1]); err != nil {
		t.Fatalf("SaveShow replace: %v", err)
	}
	if found, _ := st.FindShowByNameOrAlias(ctx, "shingeki no kyojin"); found != nil {
		t.Fatalf("stale alias still matches: %+v", found)
	}
	if found, _ := st.FindShowByNameOrAlias(ctx, "aot"); found == nil {
		t.Fatal("new alias not indexed")
	}
	eps, _ = st.GetEpisodesForShow(ctx, 1429)
	if len(eps) != 1 {
		t.Fatalf("episodes not replaced: %+v", eps)
	}

	if err := st.SaveShow(ctx, &shows.Show{ID: 7, SystemName: "Breaking Bad", SystemPath: "/library/Breaking Bad"}, nil); err != nil {
		t.Fatalf("SaveShow second: %v", err)
	}
	list, err := st.ListShows(ctx)
	if err != nil {
		t.Fatalf("ListShows: %v", err)
	}
	if len(list) != 2 || list[0].SystemName != "Attack on Titan" || list[1].SystemName != "Breaking Bad" {
		t.Fatalf("unexpected show list: %+v", list)
	}
}
