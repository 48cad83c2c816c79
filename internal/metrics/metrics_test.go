package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.CrawlEntries("/remote/tv", 3)
	m.CrawlEntries("/remote/tv", 2)
	m.CrawlFailures("/remote/tv", 1)
	m.Download(DownloadComplete, 100)
	m.Download(DownloadSkipped, 0)
	m.Route("routed")
	m.Hash("crc32")

	if got := testutil.ToFloat64(m.crawlEntries.WithLabelValues("/remote/tv")); got != 5 {
		t.Fatalf("crawl entries = %v", got)
	}
	if got := testutil.ToFloat64(m.downloadBytes); got != 100 {
		t.Fatalf("download bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.downloads.WithLabelValues(DownloadSkipped)); got != 1 {
		t.Fatalf("skipped downloads = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CrawlEntries("x", 1)
	m.Download(DownloadFailed, 1)
	m.ObserveRun("incremental", time.Second)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
}

func TestHandlerAndTextfile(t *testing.T) {
	m := New()
	m.ObserveRun("full", 2*time.Second)
	m.Route("unknown_show")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `nasferry_routing_total{outcome="unknown_show"} 1`) {
		t.Fatalf("routing counter missing from exposition:\n%s", rec.Body.String())
	}

	path := filepath.Join(t.TempDir(), "state", "nasferry.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "nasferry_run_duration_seconds_count{mode=\"full\"} 1") {
		t.Fatalf("histogram missing from textfile:\n%s", data)
	}
}
