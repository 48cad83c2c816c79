package main

import (
	"strings"

	"github.com/spf13/cobra"

	"nasferry/internal/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator HTTP API and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			addr := strings.TrimSpace(bind)
			if addr == "" {
				addr = env.cfg.API.Bind
			}
			return api.New(env.store, ctx.metrics, env.logger).Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to api.bind)")
	return cmd
}
