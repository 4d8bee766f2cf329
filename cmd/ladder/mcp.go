package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/ladder/pkg/logging"
	"github.com/pario-ai/ladder/pkg/mcp"
	"github.com/pario-ai/ladder/pkg/provider"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve recommendation, routing and telemetry queries as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			if cfg.Logging.Output == "stdout" {
				cfg.Logging.Output = "stderr"
				logging.Global(cfg.Logging)
			}

			store, err := openTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := newRecommender(cfg)
			if err != nil {
				return err
			}

			deps := mcp.Deps{
				Recommender: rec,
				Router:      newRouter(cfg, store),
				Telemetry:   store,
			}
			// The cache is per process, so only a persisted cache has
			// anything to report here.
			if cfg.Cache.Enabled && cfg.Cache.Persist {
				c, closeCache, err := openCache(cfg, provider.NewClient(cfg))
				if err != nil {
					return err
				}
				defer closeCache()
				deps.Cache = c
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Str("telemetry", store.Dir()).Msg("mcp server listening on stdio")
			return mcp.New(deps, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
