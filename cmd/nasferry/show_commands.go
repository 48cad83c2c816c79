package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nasferry/internal/shows"
)

type showView struct {
	ID           int64    `json:"id"`
	SystemName   string   `json:"systemName"`
	SystemPath   string   `json:"systemPath"`
	TMDBName     string   `json:"tmdbName"`
	Aliases      []string `json:"aliases"`
	FirstAirDate string   `json:"firstAirDate,omitempty"`
	Status       string   `json:"status,omitempty"`
	Seasons      int      `json:"seasons"`
	Episodes     int      `json:"episodes"`
}

func newShowView(show *shows.Show, episodes int) showView {
	return showView{
		ID:           show.ID,
		SystemName:   show.SystemName,
		SystemPath:   show.SystemPath,
		TMDBName:     show.TMDBName,
		Aliases:      show.Aliases,
		FirstAirDate: show.FirstAirDate,
		Status:       show.Status,
		Seasons:      show.SeasonCount,
		Episodes:     episodes,
	}
}

type candidateView struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	OriginalName string  `json:"originalName,omitempty"`
	Year         string  `json:"year,omitempty"`
	Score        float64 `json:"score"`
	Overview     string  `json:"overview,omitempty"`
}

func newCandidateViews(candidates []shows.Candidate) []candidateView {
	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, candidateView{
			ID:           c.ID,
			Name:         c.Name,
			OriginalName: c.OriginalName,
			Year:         c.Year(),
			Score:        c.Score,
			Overview:     c.Overview,
		})
	}
	return views
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Manage the show registry used for routing",
	}
	showCmd.AddCommand(newShowAddCommand(ctx))
	showCmd.AddCommand(newShowSearchCommand(ctx))
	showCmd.AddCommand(newShowListCommand(ctx))
	showCmd.AddCommand(newShowRefreshCommand(ctx))
	return showCmd
}

func (c *commandContext) showService(env *appEnv) (*shows.Service, error) {
	catalog, err := c.catalog(env.cfg)
	if err != nil {
		return nil, err
	}
	return shows.NewService(env.store, catalog, env.cfg.Paths.LibraryDir, env.logger), nil
}

func newShowAddCommand(ctx *commandContext) *cobra.Command {
	var opts shows.ImportOptions
	cmd := &cobra.Command{
		Use:   "add <tmdb-id>",
		Short: "Import a show and its episodes from TMDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTMDBID(args[0])
			if err != nil {
				return err
			}
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			svc, err := ctx.showService(env)
			if err != nil {
				return err
			}
			show, episodes, err := svc.Import(cmd.Context(), id, opts)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, newShowView(show, len(episodes)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%d) with %d episodes at %s\n", show.SystemName, show.ID, len(episodes), show.SystemPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.SystemName, "name", "", "Library directory name (defaults to the TMDB name)")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "Re-import a show that is already registered")
	return cmd
}

func newShowSearchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "search <name>",
		Short: "Search TMDB for shows by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			svc, err := ctx.showService(env)
			if err != nil {
				return err
			}
			candidates, err := svc.SearchRemoteCatalog(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			views := newCandidateViews(candidates)
			if ctx.jsonOutput {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No shows found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{strconv.FormatInt(v.ID, 10), v.Name, v.Year, strconv.FormatFloat(v.Score, 'f', 2, 64), truncate(v.Overview, 60)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"TMDB ID", "Name", "Year", "Score", "Overview"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newShowListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered shows",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			list, err := env.store.ListShows(cmd.Context())
			if err != nil {
				return fmt.Errorf("list shows: %w", err)
			}
			views := make([]showView, 0, len(list))
			for _, show := range list {
				episodes, err := env.store.GetEpisodesForShow(cmd.Context(), show.ID)
				if err != nil {
					return fmt.Errorf("load episodes for %d: %w", show.ID, err)
				}
				views = append(views, newShowView(show, len(episodes)))
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No shows registered; add one with 'nasferry show add <tmdb-id>'")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					strconv.FormatInt(v.ID, 10),
					v.SystemName,
					strconv.Itoa(v.Episodes),
					strconv.Itoa(len(v.Aliases)),
					truncate(v.SystemPath, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"TMDB ID", "Name", "Episodes", "Aliases", "Path"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft}))
			return nil
		},
	}
}

func newShowRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <tmdb-id>",
		Short: "Re-fetch a registered show's metadata and episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTMDBID(args[0])
			if err != nil {
				return err
			}
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			svc, err := ctx.showService(env)
			if err != nil {
				return err
			}
			show, episodes, err := svc.Refresh(cmd.Context(), id)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, newShowView(show, len(episodes)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s (%d): %d episodes\n", show.SystemName, show.ID, len(episodes))
			return nil
		},
	}
}

func parseTMDBID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tmdb id %q", raw)
	}
	return id, nil
}
