package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"nasferry/internal/config"
	"nasferry/internal/fileutil"
	"nasferry/internal/keylock"
	"nasferry/internal/logging"
	"nasferry/internal/metrics"
	"nasferry/internal/records"
	"nasferry/internal/services"
	"nasferry/internal/shows"
)

// Options tunes a routing run.
type Options struct {
	// DryRun resolves destinations without moving files or touching records.
	DryRun bool
	// RetryErrors also picks up ERROR records.
	RetryErrors bool
}

// Result reports one record.
type Result struct {
	RecordID   int64
	Name       string
	Source     string
	Outcome    Outcome
	Resolution Resolution
	Err        error
}

// Report summarizes a run in candidate order.
type Report struct {
	DryRun  bool
	Results []Result
}

// Count returns the number of results with outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Engine routes eligible records into the library. Records are processed
// concurrently but each record id is handled by one goroutine at a time.
type Engine struct {
	store       records.Store
	resolver    *Resolver
	workers     int
	overwrite   bool
	retryErrors bool
	locks       *keylock.Map[int64]
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics records routing outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an engine from the routing section.
func NewEngine(cfg config.Routing, store records.Store, lookup shows.Lookup, logger *slog.Logger, opts ...Option) *Engine {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	e := &Engine{
		store:       store,
		resolver:    NewResolver(lookup, time.Duration(cfg.LookupTimeoutSeconds)*time.Second),
		workers:     workers,
		overwrite:   cfg.OverwriteExisting,
		retryErrors: cfg.RetryErrors,
		locks:       &keylock.Map[int64]{},
		logger:      logging.NewComponentLogger(logger, "routing"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates returns the records a run would pick up.
func (e *Engine) Candidates(ctx context.Context, retryErrors bool) ([]*records.FileRecord, error) {
	downloaded, err := e.store.GetDownloadedFilesByStatus(ctx, records.StatusDownloaded)
	if err != nil {
		return nil, fmt.Errorf("list downloaded records: %w", err)
	}
	var out []*records.FileRecord
	for _, rec := range downloaded {
		if rec.CanBeRouted() {
			out = append(out, rec)
		}
	}
	if !retryErrors {
		return out, nil
	}
	failed, err := e.store.GetDownloadedFilesByStatus(ctx, records.StatusError)
	if err != nil {
		return nil, fmt.Errorf("list failed records: %w", err)
	}
	for _, rec := range failed {
		if rec.CanRetryRouting() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Run routes every candidate. Per-file problems are reported in the result;
// a store failure aborts the run.
func (e *Engine) Run(ctx context.Context, opts Options) (Report, error) {
	ctx = services.WithStage(ctx, "route")
	report := Report{DryRun: opts.DryRun}
	candidates, err := e.Candidates(ctx, opts.RetryErrors || e.retryErrors)
	if err != nil {
		return report, err
	}

	results := make([]Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, rec := range candidates {
		g.Go(func() error {
			res, err := e.Route(gctx, rec.ID, opts.DryRun)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		report.Results = compact(results)
		return report, err
	}
	report.Results = results
	return report, nil
}

func compact(results []Result) []Result {
	out := results[:0:0]
	for _, res := range results {
		if res.Outcome != "" {
			out = append(out, res)
		}
	}
	return out
}

// Route processes a single record id under its lock: resolve, claim the
// record, move the file, and persist the outcome.
func (e *Engine) Route(ctx context.Context, id int64, dryRun bool) (Result, error) {
	ctx = services.WithRecordID(ctx, id)
	logger := logging.WithContext(ctx, e.logger)
	result := Result{RecordID: id}

	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return result, err
	}
	defer unlock()

	rec, err := e.store.GetDownloadedFileByID(ctx, id)
	if err != nil {
		return result, fmt.Errorf("load record %d: %w", id, err)
	}
	if rec == nil || !(rec.CanBeRouted() || rec.CanRetryRouting()) {
		result.Outcome = OutcomeSkipped
		return result, nil
	}
	result.Name = rec.Name
	result.Source = rec.ResolvedPath()
	logger = logger.With(logging.String("file", rec.Name))

	res, err := e.resolver.Resolve(ctx, rec)
	if err != nil {
		return result, err
	}
	result.Resolution = res
	result.Outcome = res.Outcome

	switch res.Outcome {
	case OutcomeUnparsed:
		e.metrics.Route(string(OutcomeUnparsed))
		logger.Info("filename not recognised",
			logging.String(logging.FieldEventType, "route_unparsed"),
			logging.String(logging.FieldErrorHint, "rename the file or route it manually"),
		)
		return result, nil
	case OutcomeUnknownShow:
		e.metrics.Route(string(OutcomeUnknownShow))
		logger.Info("show not registered",
			logging.String(logging.FieldEventType, "route_unknown_show"),
			logging.String("show", res.Match.ShowName),
			logging.String(logging.FieldErrorHint, "see 'nasferry files unmatched' and add the show with 'nasferry show add'"),
		)
		return result, nil
	case OutcomeUnresolved:
		e.metrics.Route(string(OutcomeUnresolved))
		logger.Info("episode not resolved",
			logging.String(logging.FieldEventType, "route_unresolved"),
			logging.String("show", res.Match.ShowName),
			logging.Int("absolute_episode", res.Match.Episode),
			logging.String(logging.FieldErrorHint, "refresh the show's episodes with 'nasferry show refresh'"),
		)
		return result, nil
	}

	if dryRun {
		logger.Info("route planned",
			logging.String("destination", res.Destination),
			logging.String("reasoning", res.Reasoning),
		)
		return result, nil
	}

	claimed, err := e.store.MarkDownloadedFileProcessing(ctx, id, e.now())
	if errors.Is(err, records.ErrInvalidTransition) {
		result.Outcome = OutcomeSkipped
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("claim record %d: %w", id, err)
	}

	// Writes after the claim must land even if the run is cancelled.
	persist := context.WithoutCancel(ctx)
	source := claimed.ResolvedPath()

	if err := fileutil.MoveFile(source, res.Destination, e.overwrite); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		e.metrics.Route(string(OutcomeFailed))
		if markErr := e.store.MarkDownloadedFileError(persist, id, err.Error()); markErr != nil {
			return result, fmt.Errorf("record routing failure for %d: %w", id, markErr)
		}
		logging.WarnWithContext(logger, "route failed", "route_failed",
			logging.Error(err),
			logging.String("destination", res.Destination),
			logging.Int("attempts", claimed.RoutingAttempts),
			logging.String(logging.FieldErrorHint, "fix the library path and re-run with --retry-errors"),
		)
		return result, nil
	}

	if err := e.store.CompleteDownloadedFileRouting(persist, id, res.Destination, res.Routing(), e.now()); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		e.metrics.Route(string(OutcomeFailed))
		return result, e.undoMove(persist, logger, id, source, res.Destination, err)
	}
	result.Outcome = OutcomeRouted
	e.metrics.Route(string(OutcomeRouted))
	logger.Info("file routed",
		logging.String(logging.FieldEventType, "route_complete"),
		logging.String("destination", res.Destination),
		logging.Float64("confidence", res.Confidence),
	)
	return result, nil
}

// undoMove puts a moved file back at source after its routing outcome could
// not be stored, and leaves the record in ERROR so a retry picks it up again.
// The persist failure is always returned.
func (e *Engine) undoMove(ctx context.Context, logger *slog.Logger, id int64, source, destination string, persistErr error) error {
	persistErr = fmt.Errorf("persist routing for %d: %w", id, persistErr)
	message := persistErr.Error()
	location := source
	if err := fileutil.MoveFile(destination, source, false); err != nil {
		location = destination
		message = fmt.Sprintf("%s; file left at %s: %v", message, destination, err)
	}
	if err := e.store.MarkDownloadedFileError(ctx, id, message); err != nil {
		return errors.Join(persistErr, fmt.Errorf("record routing failure for %d: %w", id, err))
	}
	logging.ErrorWithContext(logger, "route not recorded", "route_failed",
		logging.Error(persistErr),
		logging.String("destination", destination),
		logging.String("file_location", location),
		logging.String(logging.FieldErrorHint, "check the database, then re-run with --retry-errors"),
	)
	return persistErr
}
