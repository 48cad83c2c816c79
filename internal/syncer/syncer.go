// Package syncer runs refresh passes over the configured remote roots: crawl,
// diff against the stored snapshot, download, and commit the completed
// records together with the next snapshot.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nasferry/internal/config"
	"nasferry/internal/downloader"
	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/preflight"
	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/services"
	"nasferry/internal/snapshot"
)

// Mode selects how the snapshot is refreshed.
type Mode string

const (
	// ModeIncremental diffs a shallow listing and expands changed directories.
	ModeIncremental Mode = "incremental"
	// ModeFull treats the whole recursive listing as the target set.
	ModeFull Mode = "full"
)

// Options tunes a single run.
type Options struct {
	// SnapshotOnly replaces the snapshot without downloading (full mode only).
	SnapshotOnly bool
}

// RootSummary reports one remote root.
type RootSummary struct {
	Root          string
	Listed        int
	Changed       int
	Targets       int
	AlreadyRouted int
	Settling      int
	Downloaded    int
	Skipped       int
	Directories   int
	Failed        int
	Persisted     int
	Bytes         int64
	ListingFailed bool
	ListingErr    error
}

// Summary reports a run.
type Summary struct {
	RunID    string
	Mode     Mode
	Started  time.Time
	Duration time.Duration
	Roots    []RootSummary
}

// Failed returns the number of targets that did not complete across roots.
func (s Summary) Failed() int {
	n := 0
	for _, root := range s.Roots {
		n += root.Failed
	}
	return n
}

// Persisted returns the number of records committed across roots.
func (s Summary) Persisted() int {
	n := 0
	for _, root := range s.Roots {
		n += root.Persisted
	}
	return n
}

// ListingFailures returns the roots whose top-level listing failed.
func (s Summary) ListingFailures() []string {
	var out []string
	for _, root := range s.Roots {
		if root.ListingFailed {
			out = append(out, root.Root)
		}
	}
	return out
}

// Syncer coordinates a run. It holds no state between runs; every run reads
// its baseline from the store.
type Syncer struct {
	roots      []string
	workers    int
	crawler    *remote.Crawler
	downloader *downloader.Downloader
	store      records.Store
	preflight  func(batchBytes int64) error
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type settings struct {
	metrics   *metrics.Metrics
	now       func() time.Time
	preflight func(int64) error
}

// Option customizes a Syncer.
type Option func(*settings)

// WithMetrics records crawl, download, and run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithClock overrides the time source used by the crawl settle rule and
// run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPreflight replaces the pre-download capacity check.
func WithPreflight(check func(batchBytes int64) error) Option {
	return func(s *settings) {
		s.preflight = check
	}
}

// New wires a syncer for cfg over dialer and store.
func New(cfg *config.Config, dialer remote.Dialer, store records.Store, logger *slog.Logger, opts ...Option) *Syncer {
	set := settings{now: time.Now}
	for _, opt := range opts {
		opt(&set)
	}
	if set.preflight == nil {
		set.preflight = func(batchBytes int64) error {
			return preflight.CheckDownload(cfg, batchBytes)
		}
	}
	workers := cfg.Download.Workers
	if workers < 1 {
		workers = 1
	}
	return &Syncer{
		roots:      append([]string(nil), cfg.Remote.Paths...),
		workers:    workers,
		crawler:    remote.NewCrawler(dialer, remote.NewFilter(cfg.Crawl), logger, remote.WithClock(set.now)),
		downloader: downloader.New(dialer, cfg.Paths, cfg.Download, logger, downloader.WithMetrics(set.metrics)),
		store:      store,
		preflight:  set.preflight,
		metrics:    set.metrics,
		logger:     logging.NewComponentLogger(logger, "syncer"),
		now:        set.now,
	}
}

// Incremental runs the incremental mode over every root.
func (s *Syncer) Incremental(ctx context.Context) (Summary, error) {
	return s.run(ctx, ModeIncremental, Options{})
}

// Full runs the full mode over every root.
func (s *Syncer) Full(ctx context.Context, opts Options) (Summary, error) {
	return s.run(ctx, ModeFull, opts)
}

func (s *Syncer) run(ctx context.Context, mode Mode, opts Options) (Summary, error) {
	summary := Summary{
		RunID:   uuid.NewString(),
		Mode:    mode,
		Started: s.now(),
	}
	ctx = services.WithRunID(ctx, summary.RunID)
	ctx = services.WithStage(ctx, "sync")
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("sync started",
		logging.String(logging.FieldEventType, "sync_started"),
		logging.String("mode", string(mode)),
		logging.Int("roots", len(s.roots)),
	)

	defer func() {
		summary.Duration = s.now().Sub(summary.Started)
		s.metrics.ObserveRun(string(mode), summary.Duration)
	}()

	for _, root := range s.roots {
		rootCtx := services.WithRemoteRoot(ctx, root)
		var (
			rs  RootSummary
			err error
		)
		if mode == ModeFull {
			rs, err = s.fullRoot(rootCtx, root, opts)
		} else {
			rs, err = s.incrementalRoot(rootCtx, root)
		}
		summary.Roots = append(summary.Roots, rs)
		if err != nil {
			logging.ErrorWithContext(logging.WithContext(rootCtx, s.logger), "sync aborted", "sync_aborted",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "no records from this root were committed"),
			)
			return summary, err
		}
	}

	logger.Info("sync finished",
		logging.String(logging.FieldEventType, "sync_finished"),
		logging.String("mode", string(mode)),
		logging.Int("persisted", summary.Persisted()),
		logging.Int("failed", summary.Failed()),
		logging.Duration("elapsed", s.now().Sub(summary.Started)),
	)
	return summary, nil
}

func (s *Syncer) incrementalRoot(ctx context.Context, root string) (RootSummary, error) {
	listing := s.crawler.List(ctx, root, false)
	rs := RootSummary{Root: listing.Root, Listed: len(listing.Entries)}
	if s.recordListing(ctx, &rs, listing) {
		return rs, nil
	}

	changed, err := s.store.DiffSnapshot(ctx, listing.Root, listing.Entries)
	if err != nil {
		return rs, fmt.Errorf("diff snapshot for %s: %w", listing.Root, err)
	}
	rs.Changed = len(changed)
	logging.WithContext(ctx, s.logger).Info("snapshot diff computed",
		logging.String(logging.FieldEventType, "diff_computed"),
		logging.Int("listed", rs.Listed),
		logging.Int("changed", rs.Changed),
	)

	targets, incomplete, settling := s.expand(ctx, changed)
	rs.Settling = settling
	return s.transfer(ctx, rs, listing.Root, listing.Entries, changed, targets, incomplete)
}

func (s *Syncer) fullRoot(ctx context.Context, root string, opts Options) (RootSummary, error) {
	listing := s.crawler.List(ctx, root, true)
	rs := RootSummary{Root: listing.Root, Listed: len(listing.Entries)}
	if s.recordListing(ctx, &rs, listing) {
		return rs, nil
	}
	incomplete := listing.Pending()
	rs.Settling = len(listing.Settling)

	if opts.SnapshotOnly {
		next := snapshot.Next(listing.Entries, listing.Entries, incomplete)
		if _, err := s.store.CommitSync(ctx, records.SyncBatch{Root: listing.Root, ReplaceSnapshot: true, Snapshot: next}); err != nil {
			return rs, fmt.Errorf("replace snapshot for %s: %w", listing.Root, err)
		}
		logging.WithContext(ctx, s.logger).Info("snapshot replaced",
			logging.String(logging.FieldEventType, "batch_persisted"),
			logging.Int("snapshot_entries", len(next)),
		)
		return rs, nil
	}

	rs.Changed = len(listing.Entries)
	return s.transfer(ctx, rs, listing.Root, listing.Entries, listing.Entries, listing.Entries, incomplete)
}

// recordListing updates metrics and reports whether the root must be skipped
// because its own listing failed. The stored snapshot is left untouched in
// that case so nothing is mistaken for deleted.
func (s *Syncer) recordListing(ctx context.Context, rs *RootSummary, listing remote.Listing) bool {
	s.metrics.CrawlEntries(listing.Root, len(listing.Entries))
	if !listing.Complete() {
		s.metrics.CrawlFailures(listing.Root, len(listing.Failures))
	}
	if !listing.RootFailed() {
		return false
	}
	rs.ListingFailed = true
	rs.ListingErr = listing.Err()
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "root listing failed", "crawl_failed",
		logging.Error(rs.ListingErr),
		logging.String(logging.FieldErrorHint, "snapshot kept; the root is retried next run"),
	)
	return true
}

// expand lists every changed directory recursively, one task per directory.
// Results follow the order of changed, each directory before its contents.
// Directories whose subtree could not be fully listed, or still holds
// settling entries, are returned as incomplete so the next run expands them
// again. The settling count is returned last.
func (s *Syncer) expand(ctx context.Context, changed []remote.Entry) ([]remote.Entry, []string, int) {
	listings := make([]remote.Listing, len(changed))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, entry := range changed {
		if !entry.IsDir {
			continue
		}
		g.Go(func() error {
			listings[i] = s.crawler.List(ctx, entry.Path, true)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{}, len(changed))
	var (
		targets    []remote.Entry
		incomplete []string
		settling   int
	)
	add := func(entry remote.Entry) {
		if _, ok := seen[entry.Path]; ok {
			return
		}
		seen[entry.Path] = struct{}{}
		targets = append(targets, entry)
	}
	for i, entry := range changed {
		add(entry)
		if !entry.IsDir {
			continue
		}
		sub := listings[i]
		for _, child := range sub.Entries {
			add(child)
		}
		if len(sub.Failures) > 0 {
			s.metrics.CrawlFailures(entry.Path, len(sub.Failures))
		}
		if len(sub.Failures) > 0 || len(sub.Settling) > 0 {
			incomplete = append(incomplete, entry.Path)
		}
		settling += len(sub.Settling)
	}
	return targets, incomplete, settling
}

// transfer downloads targets and commits the completed records with the next
// snapshot in one atomic store call.
func (s *Syncer) transfer(ctx context.Context, rs RootSummary, root string, listed, changed, targets []remote.Entry, incomplete []string) (RootSummary, error) {
	logger := logging.WithContext(ctx, s.logger)

	targets, routed, err := s.dropRouted(ctx, targets)
	if err != nil {
		return rs, err
	}
	rs.AlreadyRouted = routed
	rs.Targets = len(targets)

	var batchBytes int64
	for _, t := range targets {
		if !t.IsDir {
			batchBytes += t.Size
		}
	}
	if len(targets) > 0 {
		if err := s.preflight(batchBytes); err != nil {
			return rs, fmt.Errorf("preflight: %w", err)
		}
	}

	res := s.downloader.Run(ctx, root, targets)
	rs.Downloaded = res.Count(downloader.OutcomeDownloaded)
	rs.Skipped = res.Count(downloader.OutcomeSkipped)
	rs.Directories = res.Count(downloader.OutcomeDirectory)
	rs.Bytes = res.Bytes()
	for _, item := range res.Failed() {
		rs.Failed++
		incomplete = append(incomplete, item.Entry.Path)
	}
	if err := ctx.Err(); err != nil {
		return rs, fmt.Errorf("sync %s: %w", root, err)
	}

	next := snapshot.Next(listed, changed, incomplete)
	committed, err := s.store.CommitSync(ctx, records.SyncBatch{
		Root:            root,
		ReplaceSnapshot: true,
		Snapshot:        next,
		Files:           res.Completed(),
	})
	if err != nil {
		return rs, fmt.Errorf("commit sync for %s: %w", root, err)
	}
	rs.Persisted = len(committed)
	logger.Info("sync batch persisted",
		logging.String(logging.FieldEventType, "batch_persisted"),
		logging.Int("records", rs.Persisted),
		logging.Int("snapshot_entries", len(next)),
		logging.Int("failed", rs.Failed),
		logging.Int64("bytes", rs.Bytes),
	)
	return rs, nil
}

// dropRouted removes file targets whose identical content is already routed
// into the library.
func (s *Syncer) dropRouted(ctx context.Context, targets []remote.Entry) ([]remote.Entry, int, error) {
	out := targets[:0:0]
	routed := 0
	for _, t := range targets {
		if t.IsDir {
			out = append(out, t)
			continue
		}
		rec, err := s.store.GetDownloadedFileByRemotePath(ctx, t.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("look up %s: %w", t.Path, err)
		}
		if rec != nil && rec.Status == records.StatusRouted && rec.Matches(t) {
			routed++
			continue
		}
		out = append(out, t)
	}
	return out, routed, nil
}
