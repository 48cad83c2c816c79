package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nasferry/internal/syncer"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Download everything that changed on the remote since the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runSync(cmd, func(c context.Context, s *syncer.Syncer) (syncer.Summary, error) {
				return s.Incremental(c)
			})
		},
	}
}

func newBootstrapCommand(ctx *commandContext) *cobra.Command {
	var snapshotOnly bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Crawl every remote root recursively and download what is missing",
		Long: "Bootstrap performs a full refresh. Files already routed into the library with an\n" +
			"unchanged remote size and modification time are not downloaded again. With\n" +
			"--snapshot-only the crawl only records a baseline so the next sync sees no changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runSync(cmd, func(c context.Context, s *syncer.Syncer) (syncer.Summary, error) {
				return s.Full(c, syncer.Options{SnapshotOnly: snapshotOnly})
			})
		},
	}
	cmd.Flags().BoolVar(&snapshotOnly, "snapshot-only", false, "Record the remote listing as the baseline without downloading")
	return cmd
}

func (c *commandContext) runSync(cmd *cobra.Command, run func(context.Context, *syncer.Syncer) (syncer.Summary, error)) error {
	env, err := c.openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	dialer, err := c.dialer(env)
	if err != nil {
		return err
	}

	var summary syncer.Summary
	err = c.withRunLock(env.cfg, func() error {
		s := syncer.New(env.cfg, dialer, env.store, env.logger, syncer.WithMetrics(c.metrics))
		var runErr error
		summary, runErr = run(cmd.Context(), s)
		return runErr
	})
	c.exportMetrics(env)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return writeJSON(cmd, newSyncView(summary))
	}
	fmt.Fprint(cmd.OutOrStdout(), renderSyncSummary(summary))
	return nil
}

type syncRootView struct {
	Root          string `json:"root"`
	Listed        int    `json:"listed"`
	Changed       int    `json:"changed"`
	Targets       int    `json:"targets"`
	AlreadyRouted int    `json:"alreadyRouted"`
	Settling      int    `json:"settling"`
	Downloaded    int    `json:"downloaded"`
	Skipped       int    `json:"skipped"`
	Directories   int    `json:"directories"`
	Failed        int    `json:"failed"`
	Persisted     int    `json:"persisted"`
	Bytes         int64  `json:"bytes"`
	ListingFailed bool   `json:"listingFailed"`
	ListingError  string `json:"listingError,omitempty"`
}

type syncView struct {
	RunID    string         `json:"runId"`
	Mode     string         `json:"mode"`
	Started  time.Time      `json:"started"`
	Duration string         `json:"duration"`
	Roots    []syncRootView `json:"roots"`
}

func newSyncView(s syncer.Summary) syncView {
	view := syncView{
		RunID:    s.RunID,
		Mode:     string(s.Mode),
		Started:  s.Started,
		Duration: s.Duration.Round(time.Millisecond).String(),
		Roots:    make([]syncRootView, 0, len(s.Roots)),
	}
	for _, r := range s.Roots {
		rv := syncRootView{
			Root:          r.Root,
			Listed:        r.Listed,
			Changed:       r.Changed,
			Targets:       r.Targets,
			AlreadyRouted: r.AlreadyRouted,
			Settling:      r.Settling,
			Downloaded:    r.Downloaded,
			Skipped:       r.Skipped,
			Directories:   r.Directories,
			Failed:        r.Failed,
			Persisted:     r.Persisted,
			Bytes:         r.Bytes,
			ListingFailed: r.ListingFailed,
		}
		if r.ListingErr != nil {
			rv.ListingError = r.ListingErr.Error()
		}
		view.Roots = append(view.Roots, rv)
	}
	return view
}

func renderSyncSummary(s syncer.Summary) string {
	rows := make([][]string, 0, len(s.Roots))
	for _, r := range s.Roots {
		listed := strconv.Itoa(r.Listed)
		if r.ListingFailed {
			listed = "failed"
		}
		rows = append(rows, []string{
			r.Root,
			listed,
			strconv.Itoa(r.Changed),
			strconv.Itoa(r.Downloaded),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.AlreadyRouted),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Persisted),
			formatBytes(r.Bytes),
		})
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s sync %s finished in %s\n", s.Mode, s.RunID, s.Duration.Round(time.Millisecond))
	b.WriteString(renderTable(
		[]string{"Root", "Listed", "Changed", "Downloaded", "Skipped", "Routed", "Failed", "Persisted", "Bytes"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	b.WriteString("\n")
	for _, r := range s.Roots {
		if r.ListingFailed && r.ListingErr != nil {
			fmt.Fprintf(&b, "listing of %s failed: %v\n", r.Root, r.ListingErr)
		}
	}
	if failed := s.Failed(); failed > 0 {
		fmt.Fprintf(&b, "%d transfer(s) failed and will be retried on the next run\n", failed)
	}
	return b.String()
}
