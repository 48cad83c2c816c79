package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nasferry/internal/api"
	"nasferry/internal/logging"
	"nasferry/internal/routing"
	"nasferry/internal/syncer"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var runNow bool
	var serve bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run sync (and routing) on the configured schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			dialer, err := ctx.dialer(env)
			if err != nil {
				return err
			}
			w := &watcher{
				cmdCtx: ctx,
				env:    env,
				logger: logging.NewComponentLogger(env.logger, "watch"),
				syncer: syncer.New(env.cfg, dialer, env.store, env.logger, syncer.WithMetrics(ctx.metrics)),
				engine: routing.NewEngine(env.cfg.Routing, env.store, env.store, env.logger, routing.WithMetrics(ctx.metrics)),
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			if serve {
				server := api.New(env.store, ctx.metrics, env.logger)
				g.Go(func() error { return server.Serve(gctx, env.cfg.API.Bind) })
			}
			g.Go(func() error { return w.run(gctx, env.cfg.Schedule.Cron, runNow) })
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&runNow, "now", false, "Run one cycle immediately instead of waiting for the first tick")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the operator API on api.bind")
	return cmd
}

type watcher struct {
	cmdCtx *commandContext
	env    *appEnv
	logger *slog.Logger
	syncer *syncer.Syncer
	engine *routing.Engine
}

func (w *watcher) run(ctx context.Context, spec string, runNow bool) error {
	logger := cronLogger{logger: w.logger}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := scheduler.AddFunc(spec, func() { w.cycle(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	w.logger.Info("watch started",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.String("schedule", spec),
		logging.Bool("route_after_sync", w.env.cfg.Schedule.RouteAfterSync),
	)
	if runNow {
		w.cycle(ctx)
	}
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	w.logger.Info("watch stopped", logging.String(logging.FieldEventType, "watch_stopped"))
	return nil
}

// cycle runs one scheduled sync and, when configured, a routing pass. A run
// already holding the lock causes the tick to be skipped.
func (w *watcher) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := w.cmdCtx.withRunLock(w.env.cfg, func() error {
		summary, err := w.syncer.Incremental(ctx)
		if err != nil {
			return err
		}
		w.logger.Info("watch sync finished",
			logging.String(logging.FieldEventType, "watch_sync_finished"),
			logging.String(logging.FieldRunID, summary.RunID),
			logging.Int("persisted", summary.Persisted()),
			logging.Int("failed", summary.Failed()),
		)
		if !w.env.cfg.Schedule.RouteAfterSync {
			return nil
		}
		report, err := w.engine.Run(ctx, routing.Options{})
		if err != nil {
			return err
		}
		w.logger.Info("watch routing finished",
			logging.String(logging.FieldEventType, "watch_route_finished"),
			logging.Int("routed", report.Count(routing.OutcomeRouted)),
			logging.Int("failed", report.Count(routing.OutcomeFailed)),
			logging.Int("unknown_show", report.Count(routing.OutcomeUnknownShow)),
		)
		return nil
	})
	w.cmdCtx.exportMetrics(w.env)
	switch {
	case err == nil:
	case errors.Is(err, errRunLocked):
		w.logger.Info("watch tick skipped; another run holds the lock",
			logging.String(logging.FieldEventType, "watch_skipped"),
		)
	case ctx.Err() != nil:
	default:
		logging.ErrorWithContext(w.logger, "watch cycle failed", "watch_cycle_failed",
			logging.Error(err),
		)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
