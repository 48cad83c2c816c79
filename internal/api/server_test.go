package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"nasferry/internal/api"
	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/records"
	"nasferry/internal/store/memory"
	"nasferry/internal/testsupport"
)

func newServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	srv := httptest.NewServer(api.New(st, metrics.New(), logging.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func seed(t *testing.T, st *memory.Store, remotePath string) *records.FileRecord {
	t.Helper()
	rec, err := st.UpsertDownloadedFile(context.Background(), testsupport.NewRecord(t, remotePath))
	if err != nil {
		t.Fatalf("seed %s: %v", remotePath, err)
	}
	return rec
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthAndRequestID(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
	if got := decode[api.Health](t, resp); got.Status != "ok" {
		t.Fatalf("unexpected health %+v", got)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	req.Header.Set(api.RequestIDHeader, "abc-123")
	echoed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer echoed.Body.Close()
	if got := echoed.Header.Get(api.RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}
}

func TestListFilesFiltersAndPages(t *testing.T) {
	srv, st := newServer(t)
	seed(t, st, "/remote/tv/a.mkv")
	seed(t, st, "/remote/tv/b.mkv")
	seed(t, st, "/remote/tv/c.srt")

	resp := do(t, http.MethodGet, srv.URL+"/api/files?type=video&page_size=1&sort=name&order=asc", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	list := decode[api.FileList](t, resp)
	if list.Total != 2 || len(list.Files) != 1 || list.PageSize != 1 {
		t.Fatalf("unexpected page %+v", list)
	}
	if list.Files[0].Name != "a.mkv" || list.Files[0].FileType != "video" || list.Files[0].Status != "downloaded" {
		t.Fatalf("unexpected first file %+v", list.Files[0])
	}

	bad := do(t, http.MethodGet, srv.URL+"/api/files?status=bogus", "")
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", bad.StatusCode)
	}
	if body := decode[api.ErrorBody](t, bad); body.Code != "invalid_request" || body.RequestID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestGetFile(t *testing.T) {
	srv, st := newServer(t)
	rec := seed(t, st, "/remote/tv/a.mkv")

	resp := do(t, http.MethodGet, srv.URL+"/api/files/"+itoa(rec.ID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decode[api.FileRecord](t, resp); got.RemotePath != "/remote/tv/a.mkv" || got.ModifiedTime == "" {
		t.Fatalf("unexpected record %+v", got)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/api/files/999", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/files/abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPatchStatusAndReset(t *testing.T) {
	srv, st := newServer(t)
	rec := seed(t, st, "/remote/tv/a.mkv")
	url := srv.URL + "/api/files/" + itoa(rec.ID)

	resp := do(t, http.MethodPatch, url, `{"status":"error","error_message":"manual hold"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decode[api.FileRecord](t, resp); got.Status != "error" || got.ErrorMessage != "manual hold" {
		t.Fatalf("unexpected patched record %+v", got)
	}

	if resp := do(t, http.MethodPatch, url, `{"status":"nope"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPatch, url, `{"unknown":1}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPatch, srv.URL+"/api/files/999", `{"status":"error"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing record, got %d", resp.StatusCode)
	}

	reset := do(t, http.MethodPost, url+"/reset", "")
	if reset.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", reset.StatusCode)
	}
	if got := decode[api.FileRecord](t, reset); got.Status != "downloaded" || got.ErrorMessage != "" {
		t.Fatalf("reset did not clear the record: %+v", got)
	}
}

func TestHashEndpoint(t *testing.T) {
	srv, st := newServer(t)
	rec := testsupport.NewRecord(t, "/remote/tv/hello.mkv")
	rec.CurrentPath = t.TempDir() + "/hello.mkv"
	testsupport.WriteFile(t, rec.CurrentPath, 0)
	saved, err := st.UpsertDownloadedFile(context.Background(), rec)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	url := srv.URL + "/api/files/" + itoa(saved.ID) + "/hash"

	resp := do(t, http.MethodPost, url+"?algorithm=sha256", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[api.HashResult](t, resp)
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if !got.Found || got.Value != emptySHA256 || got.Algorithm != "sha256" {
		t.Fatalf("unexpected hash result %+v", got)
	}
	stored, _ := st.GetDownloadedFileByID(context.Background(), saved.ID)
	if stored.FileHash != emptySHA256 || stored.HashAlgorithm != records.HashSHA256 {
		t.Fatalf("hash not persisted: %+v", stored)
	}

	if resp := do(t, http.MethodPost, url+"?algorithm=whirlpool", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown algorithm, got %d", resp.StatusCode)
	}

	missing := seed(t, st, "/remote/tv/gone.mkv")
	resp = do(t, http.MethodPost, srv.URL+"/api/files/"+itoa(missing.ID)+"/hash", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", resp.StatusCode)
	}
	if got := decode[api.HashResult](t, resp); got.Found || got.Algorithm != "crc32" {
		t.Fatalf("unexpected missing-file result %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
