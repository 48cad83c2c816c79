package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nasferry/internal/api"
	"nasferry/internal/integrity"
	"nasferry/internal/records"
	"nasferry/internal/routing"
	"nasferry/internal/shows"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect and repair tracked file records",
	}
	filesCmd.AddCommand(newFilesListCommand(ctx))
	filesCmd.AddCommand(newFilesShowCommand(ctx))
	filesCmd.AddCommand(newFilesSetStatusCommand(ctx))
	filesCmd.AddCommand(newFilesResetCommand(ctx))
	filesCmd.AddCommand(newFilesUnmatchedCommand(ctx))
	filesCmd.AddCommand(newFilesHashCommand(ctx))
	return filesCmd
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag, typeFlag string
	var params records.SearchParams

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search file records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(statusFlag) != "" {
				status, ok := records.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				params.Status = status
			}
			if strings.TrimSpace(typeFlag) != "" {
				ft, ok := records.ParseFileType(typeFlag)
				if !ok {
					return fmt.Errorf("unknown file type %q", typeFlag)
				}
				params.FileType = ft
			}
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			recs, total, err := env.store.SearchDownloadedFiles(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("search files: %w", err)
			}
			page := params.Normalize()
			if ctx.jsonOutput {
				return writeJSON(cmd, api.FileList{Files: api.FromRecords(recs), Total: total, Page: page.Page, PageSize: page.PageSize})
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No matching files")
				return nil
			}
			fmt.Fprintln(out, renderFileTable(recs))
			fmt.Fprintf(out, "Page %d, showing %d of %d\n", page.Page, len(recs), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (downloaded, processing, routed, error, deleted)")
	cmd.Flags().StringVar(&typeFlag, "type", "", "Filter by file type (video, audio, subtitle, nfo, image, archive, unknown)")
	cmd.Flags().StringVarP(&params.Query, "query", "q", "", "Case-insensitive substring of the name or remote path")
	cmd.Flags().Int64Var(&params.ShowID, "show-id", 0, "Filter by routed show id")
	cmd.Flags().IntVar(&params.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&params.PageSize, "page-size", records.DefaultPageSize, "Rows per page")
	cmd.Flags().StringVar(&params.SortBy, "sort", "id", "Sort key (id, name, size, modified_time, fetched_at, status, show_name)")
	cmd.Flags().StringVar(&params.SortOrder, "order", "desc", "Sort order (asc, desc)")
	return cmd
}

func renderFileTable(recs []*records.FileRecord) string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		size := formatBytes(rec.Size)
		if rec.IsDir {
			size = "dir"
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			truncate(rec.Name, 50),
			string(rec.FileType()),
			string(rec.Status),
			size,
			truncate(rec.Routing.ShowName, 30),
			truncate(rec.ResolvedPath(), 70),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Type", "Status", "Size", "Show", "Path"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newFilesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one file record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			rec, err := loadRecord(cmd, env, id)
			if err != nil {
				return err
			}
			dto := api.FromRecord(rec)
			if ctx.jsonOutput {
				return writeJSON(cmd, dto)
			}
			rows := [][]string{
				{"ID", strconv.FormatInt(dto.ID, 10)},
				{"Name", dto.Name},
				{"Remote path", dto.RemotePath},
				{"Current path", dto.CurrentPath},
				{"Directory", yesNo(dto.IsDir)},
				{"Size", formatBytes(dto.Size)},
				{"Modified", dto.ModifiedTime},
				{"Fetched", dto.FetchedAt},
				{"Type", dto.FileType},
				{"Status", dto.Status},
				{"Routing attempts", strconv.Itoa(dto.RoutingAttempts)},
				{"Last attempt", dto.LastRoutingAttempt},
				{"Error", dto.ErrorMessage},
			}
			if r := dto.Routing; r != nil {
				rows = append(rows,
					[]string{"Show", fmt.Sprintf("%s (%d)", r.ShowName, r.ShowID)},
					[]string{"Episode", formatEpisode(r.Season, r.Episode)},
					[]string{"Confidence", strconv.FormatFloat(r.Confidence, 'f', 2, 64)},
					[]string{"Reasoning", r.Reasoning},
				)
			}
			if dto.FileHash != "" {
				rows = append(rows, []string{"Hash", dto.HashAlgorithm + " " + dto.FileHash})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func formatEpisode(season, episode *int) string {
	switch {
	case season != nil && episode != nil:
		return fmt.Sprintf("S%02dE%02d", *season, *episode)
	case episode != nil:
		return fmt.Sprintf("E%02d", *episode)
	default:
		return ""
	}
}

func newFilesSetStatusCommand(ctx *commandContext) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Override a record's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			status, ok := records.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			var msg *string
			if cmd.Flags().Changed("message") {
				msg = &message
			}
			return ctx.updateStatus(cmd, id, status, msg)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Error message to store with the status")
	return cmd
}

func newFilesResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Return a record to downloaded so routing picks it up again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			return ctx.updateStatus(cmd, id, records.StatusDownloaded, nil)
		},
	}
}

func (c *commandContext) updateStatus(cmd *cobra.Command, id int64, status records.Status, msg *string) error {
	env, err := c.openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.UpdateDownloadedFileStatus(cmd.Context(), id, status, msg); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return fmt.Errorf("file %d not found", id)
		}
		return fmt.Errorf("update file %d: %w", id, err)
	}
	rec, err := loadRecord(cmd, env, id)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return writeJSON(cmd, api.FromRecord(rec))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "File %d (%s) is now %s\n", rec.ID, rec.Name, rec.Status)
	return nil
}

type unmatchedView struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Show       string          `json:"show"`
	Pattern    string          `json:"pattern"`
	Candidates []candidateView `json:"candidates"`
}

func newFilesUnmatchedCommand(ctx *commandContext) *cobra.Command {
	var search bool
	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "List downloaded episodes whose show is not registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			var searcher shows.CatalogSearcher
			if search {
				catalog, err := ctx.catalog(env.cfg)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Catalog search disabled: %v\n", err)
				} else {
					searcher = shows.NewService(env.store, catalog, env.cfg.Paths.LibraryDir, env.logger)
				}
			}

			engine := routing.NewEngine(env.cfg.Routing, env.store, env.store, env.logger)
			items, err := engine.Unmatched(cmd.Context(), searcher)
			if err != nil {
				return err
			}
			views := make([]unmatchedView, 0, len(items))
			for _, item := range items {
				views = append(views, unmatchedView{
					ID:         item.Record.ID,
					Name:       item.Record.Name,
					Show:       item.Match.ShowName,
					Pattern:    string(item.Match.Pattern),
					Candidates: newCandidateViews(item.Candidates),
				})
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "Every parsed show is registered")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{strconv.FormatInt(v.ID, 10), truncate(v.Name, 60), v.Show, formatCandidates(v.Candidates, 3)})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Parsed show", "Candidates"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
			fmt.Fprintln(out, "Register a show with 'nasferry show add <tmdb-id>' and re-run 'nasferry route'")
			return nil
		},
	}
	cmd.Flags().BoolVar(&search, "search", true, "Search TMDB for candidate shows")
	return cmd
}

func formatCandidates(candidates []candidateView, limit int) string {
	if len(candidates) == 0 {
		return "-"
	}
	parts := make([]string, 0, limit)
	for i, c := range candidates {
		if i == limit {
			break
		}
		label := c.Name
		if c.Year != "" {
			label += " (" + c.Year + ")"
		}
		parts = append(parts, fmt.Sprintf("%s #%d", label, c.ID))
	}
	return strings.Join(parts, ", ")
}

func newFilesHashCommand(ctx *commandContext) *cobra.Command {
	var algorithmFlag string
	cmd := &cobra.Command{
		Use:   "hash <id>",
		Short: "Compute and store a record's content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			alg, ok := records.ParseHashAlgorithm(algorithmFlag)
			if !ok {
				return fmt.Errorf("unsupported algorithm %q", algorithmFlag)
			}
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			rec, err := loadRecord(cmd, env, id)
			if err != nil {
				return err
			}
			verifier := integrity.NewVerifier(env.store, env.logger, ctx.metrics)
			res, err := verifier.UpdateHash(cmd.Context(), rec, alg)
			if err != nil {
				return err
			}
			result := api.HashResult{ID: rec.ID, Algorithm: string(res.Algorithm), Found: res.Found, Value: res.Value, Cached: res.Cached}
			if ctx.jsonOutput {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
			} else if res.Found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", result.Value, rec.ResolvedPath(), res.Algorithm)
			}
			if !res.Found {
				return fmt.Errorf("file %d: %s does not exist", rec.ID, rec.ResolvedPath())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithmFlag, "algorithm", string(records.DefaultHashAlgorithm), "Hash algorithm (crc32, sha1, sha256, md5)")
	return cmd
}

func parseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid file id %q", raw)
	}
	return id, nil
}

func loadRecord(cmd *cobra.Command, env *appEnv, id int64) (*records.FileRecord, error) {
	rec, err := env.store.GetDownloadedFileByID(cmd.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("load file %d: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("file %d not found", id)
	}
	return rec, nil
}
