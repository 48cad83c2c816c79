package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nasferry/internal/routing"
)

func newRouteCommand(ctx *commandContext) *cobra.Command {
	var opts routing.Options
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Move downloaded episodes into their show's season directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			engine := routing.NewEngine(env.cfg.Routing, env.store, env.store, env.logger, routing.WithMetrics(ctx.metrics))
			var report routing.Report
			run := func() error {
				var runErr error
				report, runErr = engine.Run(cmd.Context(), opts)
				return runErr
			}
			if opts.DryRun {
				err = run()
			} else {
				err = ctx.withRunLock(env.cfg, run)
				ctx.exportMetrics(env)
			}
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, newRouteView(report))
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRouteReport(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show where files would go without moving them")
	cmd.Flags().BoolVar(&opts.RetryErrors, "retry-errors", false, "Also retry records left in the error state")
	return cmd
}

type routeResultView struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Source      string  `json:"source,omitempty"`
	Outcome     string  `json:"outcome"`
	Show        string  `json:"show,omitempty"`
	Season      int     `json:"season,omitempty"`
	Episode     int     `json:"episode,omitempty"`
	Destination string  `json:"destination,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type routeView struct {
	DryRun  bool              `json:"dryRun"`
	Counts  map[string]int    `json:"counts"`
	Results []routeResultView `json:"results"`
}

func newRouteView(report routing.Report) routeView {
	view := routeView{
		DryRun:  report.DryRun,
		Counts:  make(map[string]int),
		Results: make([]routeResultView, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		view.Counts[string(res.Outcome)]++
		rv := routeResultView{
			ID:          res.RecordID,
			Name:        res.Name,
			Source:      res.Source,
			Outcome:     string(res.Outcome),
			Season:      res.Resolution.Season,
			Episode:     res.Resolution.Episode,
			Destination: res.Resolution.Destination,
			Confidence:  res.Resolution.Confidence,
			Reasoning:   res.Resolution.Reasoning,
		}
		if res.Resolution.Show != nil {
			rv.Show = res.Resolution.Show.SystemName
		}
		if res.Err != nil {
			rv.Error = res.Err.Error()
		}
		view.Results = append(view.Results, rv)
	}
	return view
}

func renderRouteReport(report routing.Report) string {
	if len(report.Results) == 0 {
		return "No files are waiting to be routed\n"
	}
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		detail := res.Resolution.Destination
		switch {
		case res.Err != nil:
			detail = res.Err.Error()
		case detail == "":
			detail = res.Resolution.Reasoning
		}
		rows = append(rows, []string{
			strconv.FormatInt(res.RecordID, 10),
			truncate(res.Name, 60),
			string(res.Outcome),
			truncate(detail, 80),
		})
	}
	var b strings.Builder
	if report.DryRun {
		b.WriteString("Dry run: no files were moved\n")
	}
	b.WriteString(renderTable(
		[]string{"ID", "Name", "Outcome", "Destination / Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d routed, %d resolved, %d unknown show, %d unparsed, %d unresolved, %d failed\n",
		report.Count(routing.OutcomeRouted),
		report.Count(routing.OutcomeResolved),
		report.Count(routing.OutcomeUnknownShow),
		report.Count(routing.OutcomeUnparsed),
		report.Count(routing.OutcomeUnresolved),
		report.Count(routing.OutcomeFailed),
	)
	return b.String()
}
