// Package metrics registers the pipeline's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Download results.
const (
	DownloadComplete = "complete"
	DownloadSkipped  = "skipped"
	DownloadFailed   = "failed"
	DownloadDir      = "directory"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	crawlEntries  *prometheus.CounterVec
	crawlFailures *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	downloadBytes prometheus.Counter
	routing       *prometheus.CounterVec
	hashes        *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry. Go runtime and process
// collectors are included so /metrics is useful for the serve command.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		crawlEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nasferry_crawl_entries_total",
			Help: "Remote entries that passed the crawl filter.",
		}, []string{"root"}),
		crawlFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nasferry_crawl_failures_total",
			Help: "Remote directory listings that failed.",
		}, []string{"root"}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nasferry_downloads_total",
			Help: "Download targets processed, by result.",
		}, []string{"result"}),
		downloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "nasferry_download_bytes_total",
			Help: "Bytes transferred from the remote.",
		}),
		routing: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nasferry_routing_total",
			Help: "Routing attempts, by outcome.",
		}, []string{"outcome"}),
		hashes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nasferry_hash_computations_total",
			Help: "Content hashes computed from disk, by algorithm.",
		}, []string{"algorithm"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nasferry_run_duration_seconds",
			Help:    "Wall time of sync and route runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		}, []string{"mode"}),
	}
}

// CrawlEntries adds n listed entries for root.
func (m *Metrics) CrawlEntries(root string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.crawlEntries.WithLabelValues(root).Add(float64(n))
}

// CrawlFailures adds n failed listings for root.
func (m *Metrics) CrawlFailures(root string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.crawlFailures.WithLabelValues(root).Add(float64(n))
}

// Download counts one target with result. bytes is the transferred size.
func (m *Metrics) Download(result string, bytes int64) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.downloadBytes.Add(float64(bytes))
	}
}

// Route counts one routing outcome.
func (m *Metrics) Route(outcome string) {
	if m == nil {
		return
	}
	m.routing.WithLabelValues(outcome).Inc()
}

// Hash counts one computed hash.
func (m *Metrics) Hash(algorithm string) {
	if m == nil {
		return
	}
	m.hashes.WithLabelValues(algorithm).Inc()
}

// ObserveRun records a run's duration for mode.
func (m *Metrics) ObserveRun(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values to path for the node exporter
// textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
