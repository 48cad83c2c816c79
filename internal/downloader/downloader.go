// Package downloader transfers remote targets into the local incoming tree
// through a bounded pool of SFTP sessions.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"nasferry/internal/config"
	"nasferry/internal/fileutil"
	"nasferry/internal/integrity"
	"nasferry/internal/keylock"
	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/records"
	"nasferry/internal/remote"
	"nasferry/internal/services"
)

// Outcome classifies how a single target finished.
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeDirectory  Outcome = "directory"
	OutcomeFailed     Outcome = "failed"
)

// Item is the per-target result. Record is set for every completed target.
type Item struct {
	Entry     remote.Entry
	LocalPath string
	Outcome   Outcome
	Record    *records.FileRecord
	Err       error
}

// Result summarizes a batch. Items keep the order of the input targets.
type Result struct {
	Items []Item
}

// Completed returns the records of targets that finished successfully.
func (r Result) Completed() []*records.FileRecord {
	var out []*records.FileRecord
	for _, item := range r.Items {
		if item.Record != nil {
			out = append(out, item.Record)
		}
	}
	return out
}

// Failed returns the targets that did not complete.
func (r Result) Failed() []Item {
	var out []Item
	for _, item := range r.Items {
		if item.Outcome == OutcomeFailed {
			out = append(out, item)
		}
	}
	return out
}

// Count returns the number of items with the given outcome.
func (r Result) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Bytes returns the number of bytes actually transferred.
func (r Result) Bytes() int64 {
	var total int64
	for _, item := range r.Items {
		if item.Outcome == OutcomeDownloaded {
			total += item.Entry.Size
		}
	}
	return total
}

// Downloader fans targets out to a fixed number of workers. Each worker owns
// one remote session; sessions are never shared between transfers.
type Downloader struct {
	dialer      remote.Dialer
	incomingDir string
	workers     int
	timeout     time.Duration
	verify      bool
	algorithm   records.HashAlgorithm
	verifier    *integrity.Verifier
	locks       *keylock.Map[string]
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithMetrics records transfer outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Downloader) {
		d.metrics = m
	}
}

// New builds a downloader from the paths and download sections.
func New(dialer remote.Dialer, paths config.Paths, cfg config.Download, logger *slog.Logger, opts ...Option) *Downloader {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	alg, ok := records.ParseHashAlgorithm(cfg.HashAlgorithm)
	if !ok {
		alg = records.HashCRC32
	}
	d := &Downloader{
		dialer:      dialer,
		incomingDir: paths.IncomingDir,
		workers:     workers,
		timeout:     time.Duration(cfg.TransferTimeoutSeconds) * time.Second,
		verify:      cfg.VerifyAfterDownload,
		algorithm:   alg,
		locks:       &keylock.Map[string]{},
		logger:      logging.NewComponentLogger(logger, "downloader"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.verify {
		d.verifier = integrity.NewVerifier(nil, logger, d.metrics)
	}
	return d
}

// LocalPath re-roots remotePath from the remote root under incomingDir.
func LocalPath(incomingDir, root, remotePath string) (string, error) {
	root = path.Clean(root)
	cleaned := path.Clean(remotePath)
	rel := strings.TrimPrefix(cleaned, strings.TrimSuffix(root, "/")+"/")
	if rel == cleaned || rel == "" {
		return "", services.Wrap(services.ErrValidation, "download", "local path",
			fmt.Sprintf("%s is not below remote root %s", remotePath, root), nil)
	}
	return filepath.Join(incomingDir, filepath.FromSlash(rel)), nil
}

// Run processes every target below root. A failed target is logged and
// reported in the result; only context cancellation stops the batch early,
// and targets not reached are reported as failed.
func (d *Downloader) Run(ctx context.Context, root string, targets []remote.Entry) Result {
	items := make([]Item, len(targets))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	workers := min(d.workers, len(targets))
	for range workers {
		g.Go(func() error {
			w := &worker{d: d}
			defer w.close()
			for idx := range jobs {
				items[idx] = w.process(gctx, root, targets[idx])
			}
			return nil
		})
	}

dispatch:
	for idx := range targets {
		select {
		case <-gctx.Done():
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	_ = g.Wait()

	for idx := range items {
		if items[idx].Outcome == "" {
			items[idx] = Item{Entry: targets[idx], Outcome: OutcomeFailed, Err: ctx.Err()}
		}
	}
	return Result{Items: items}
}

type worker struct {
	d    *Downloader
	sess remote.Session
}

func (w *worker) close() {
	if w.sess != nil {
		_ = w.sess.Close()
		w.sess = nil
	}
}

func (w *worker) session(ctx context.Context) (remote.Session, error) {
	if w.sess != nil {
		return w.sess, nil
	}
	sess, err := w.d.dialer.Dial(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "download", "dial", "open remote session", err)
	}
	w.sess = sess
	return sess, nil
}

func (w *worker) process(ctx context.Context, root string, entry remote.Entry) Item {
	d := w.d
	item := Item{Entry: entry}
	logger := logging.WithContext(ctx, d.logger).With(logging.String("remote_path", entry.Path))

	fail := func(err error, hint string) Item {
		item.Outcome = OutcomeFailed
		item.Err = err
		d.metrics.Download(metrics.DownloadFailed, 0)
		logging.WarnWithContext(logger, "download failed", "download_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hint),
		)
		return item
	}

	local, err := LocalPath(d.incomingDir, root, entry.Path)
	if err != nil {
		return fail(err, "target is outside the configured remote root")
	}
	item.LocalPath = local

	unlock, err := d.locks.Lock(ctx, local)
	if err != nil {
		return fail(err, "run cancelled before transfer started")
	}
	defer unlock()

	if entry.IsDir {
		if err := os.MkdirAll(local, 0o755); err != nil {
			return fail(fmt.Errorf("create directory: %w", err), "check incoming_dir permissions")
		}
		item.Outcome = OutcomeDirectory
		d.metrics.Download(metrics.DownloadDir, 0)
		return w.complete(ctx, logger, item)
	}

	same, err := fileutil.SameSize(local, entry.Size)
	if err != nil {
		return fail(err, "check incoming_dir permissions")
	}
	if same {
		item.Outcome = OutcomeSkipped
		d.metrics.Download(metrics.DownloadSkipped, 0)
		logger.Debug("local copy already present",
			logging.String(logging.FieldEventType, "download_skipped"),
			logging.String("local_path", local),
		)
		return w.complete(ctx, logger, item)
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fail(fmt.Errorf("create parent directory: %w", err), "check incoming_dir permissions")
	}
	sess, err := w.session(ctx)
	if err != nil {
		return fail(err, "remote unreachable; the file is retried next run")
	}

	transferCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		transferCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	started := d.now()
	if err := sess.Download(transferCtx, entry.Path, local); err != nil {
		if errors.Is(transferCtx.Err(), context.DeadlineExceeded) {
			err = services.Wrap(services.ErrTimeout, "download", "transfer", "transfer timed out", err)
		}
		// The session may be unusable after a failed transfer.
		w.close()
		return fail(err, "the file stays absent locally and is retried next run")
	}
	item.Outcome = OutcomeDownloaded
	d.metrics.Download(metrics.DownloadComplete, entry.Size)
	logger.Info("download complete",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.String("local_path", local),
		logging.Int64("bytes", entry.Size),
		logging.Duration("elapsed", d.now().Sub(started)),
	)
	return w.complete(ctx, logger, item)
}

func (w *worker) complete(ctx context.Context, logger *slog.Logger, item Item) Item {
	rec, err := records.NewFileRecord(item.Entry, item.LocalPath)
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Err = err
		logging.WarnWithContext(logger, "invalid record", "download_failed", logging.Error(err))
		return item
	}
	if w.d.verifier != nil && !item.Entry.IsDir {
		res, err := w.d.verifier.CalculateHash(ctx, rec, w.d.algorithm)
		switch {
		case err != nil:
			logging.WarnWithContext(logger, "post-download hash failed", "hash_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'nasferry verify' to retry"),
			)
		case res.Found:
			rec.FileHash = res.Value
			rec.HashAlgorithm = res.Algorithm
		}
	}
	item.Record = rec
	return item
}
