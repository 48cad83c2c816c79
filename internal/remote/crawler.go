package remote

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path"
	"time"

	"nasferry/internal/logging"
	"nasferry/internal/services"
)

// ListError records a directory that could not be listed.
type ListError struct {
	Path string
	Err  error
}

func (e ListError) Error() string {
	return fmt.Sprintf("list %s: %v", e.Path, e.Err)
}

func (e ListError) Unwrap() error { return e.Err }

// Listing is the collected result of a crawl. Entries holds everything that
// passed the filter; Failures holds every directory whose listing failed, so
// an empty but complete listing is distinguishable from a failed one.
// Settling holds entries held back by the settle window; they are expected
// to appear in a later crawl.
type Listing struct {
	Root     string
	Entries  []Entry
	Failures []ListError
	Settling []Entry
}

// Complete reports whether every directory was listed.
func (l Listing) Complete() bool {
	return len(l.Failures) == 0
}

// RootFailed reports whether the root itself could not be listed.
func (l Listing) RootFailed() bool {
	for _, failure := range l.Failures {
		if failure.Path == l.Root {
			return true
		}
	}
	return false
}

// Pending returns the paths a snapshot built from this listing must not
// vouch for: every failed directory and every settling entry.
func (l Listing) Pending() []string {
	if len(l.Failures) == 0 && len(l.Settling) == 0 {
		return nil
	}
	paths := make([]string, 0, len(l.Failures)+len(l.Settling))
	for _, failure := range l.Failures {
		paths = append(paths, failure.Path)
	}
	for _, entry := range l.Settling {
		paths = append(paths, entry.Path)
	}
	return paths
}

// Err joins the listing failures, or returns nil.
func (l Listing) Err() error {
	if len(l.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(l.Failures))
	for _, failure := range l.Failures {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

// Crawler produces filtered remote listings.
type Crawler struct {
	dialer Dialer
	filter Filter
	logger *slog.Logger
	now    func() time.Time
}

// CrawlerOption customizes a Crawler.
type CrawlerOption func(*Crawler)

// WithClock overrides the time source used by the settle rule.
func WithClock(now func() time.Time) CrawlerOption {
	return func(c *Crawler) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCrawler constructs a crawler that dials sessions through dialer.
func NewCrawler(dialer Dialer, filter Filter, logger *slog.Logger, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		dialer: dialer,
		filter: filter,
		logger: logging.NewComponentLogger(logger, "crawler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WalkHooks observes what a walk does not yield. Either field may be nil.
type WalkHooks struct {
	// OnError receives every directory whose listing failed.
	OnError func(ListError)
	// OnSettling receives every entry skipped by the settle window.
	OnSettling func(Entry)
}

// Walk lazily yields the filtered entries under dir using sess. Directories
// that pass the filter are yielded and, when recursive, descended into with
// the same session. Listing failures go to hooks.OnError and the affected
// directory contributes nothing.
func (c *Crawler) Walk(ctx context.Context, sess Session, dir string, recursive bool, hooks WalkHooks) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		c.walk(ctx, sess, dir, recursive, hooks, yield)
	}
}

func (c *Crawler) walk(ctx context.Context, sess Session, dir string, recursive bool, hooks WalkHooks, yield func(Entry) bool) bool {
	if err := ctx.Err(); err != nil {
		c.reportFailure(ctx, hooks.OnError, dir, err)
		return false
	}
	entries, err := sess.ListDirectory(ctx, dir)
	if err != nil {
		c.reportFailure(ctx, hooks.OnError, dir, err)
		return true
	}
	now := c.now()
	for _, entry := range entries {
		if reason := c.filter.Check(entry, now); reason != SkipNone {
			c.logger.Debug("entry filtered",
				logging.String("path", entry.Path),
				logging.String("reason", reason),
			)
			if reason == SkipSettling && hooks.OnSettling != nil {
				hooks.OnSettling(entry)
			}
			continue
		}
		if !yield(entry) {
			return false
		}
		if recursive && entry.IsDir {
			if !c.walk(ctx, sess, entry.Path, true, hooks, yield) {
				return false
			}
		}
	}
	return true
}

func (c *Crawler) reportFailure(ctx context.Context, onErr func(ListError), dir string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "remote listing failed",
		"crawl_failed",
		logging.String("path", dir),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "directory treated as nothing new this run"),
	)
	if onErr != nil {
		onErr(ListError{Path: dir, Err: err})
	}
}

// ListWith collects a crawl of root over an existing session.
func (c *Crawler) ListWith(ctx context.Context, sess Session, root string, recursive bool) Listing {
	root = path.Clean(root)
	listing := Listing{Root: root}
	hooks := WalkHooks{
		OnError: func(failure ListError) {
			listing.Failures = append(listing.Failures, failure)
		},
		OnSettling: func(entry Entry) {
			listing.Settling = append(listing.Settling, entry)
		},
	}
	for entry := range c.Walk(ctx, sess, root, recursive, hooks) {
		listing.Entries = append(listing.Entries, entry)
	}
	c.logger.Debug("remote listing collected",
		logging.String(logging.FieldEventType, "crawl_listed"),
		logging.String("root", root),
		logging.Bool("recursive", recursive),
		logging.Int("entries", len(listing.Entries)),
		logging.Int("failures", len(listing.Failures)),
		logging.Int("settling", len(listing.Settling)),
	)
	return listing
}

// List dials a session, collects a crawl of root, and closes the session.
// A dial failure is reported as a root listing failure.
func (c *Crawler) List(ctx context.Context, root string, recursive bool) Listing {
	root = path.Clean(root)
	sess, err := c.dialer.Dial(ctx)
	if err != nil {
		failure := ListError{Path: root, Err: services.Wrap(services.ErrTransient, "crawl", "dial", "open remote session", err)}
		c.reportFailure(ctx, nil, root, failure.Err)
		return Listing{Root: root, Failures: []ListError{failure}}
	}
	defer sess.Close()
	return c.ListWith(ctx, sess, root, recursive)
}
