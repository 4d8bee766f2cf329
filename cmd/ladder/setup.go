package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/ladder/pkg/cache"
	"github.com/pario-ai/ladder/pkg/cache/sqlite"
	"github.com/pario-ai/ladder/pkg/config"
	"github.com/pario-ai/ladder/pkg/logging"
	"github.com/pario-ai/ladder/pkg/provider"
	"github.com/pario-ai/ladder/pkg/recommend"
	"github.com/pario-ai/ladder/pkg/router"
	"github.com/pario-ai/ladder/pkg/telemetry"
)

const defaultConfigPath = "ladder.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.PersistentFlags().StringVarP(path, "config", "c", defaultConfigPath, "path to config file")
}

// loadConfig reads the config file and installs the global logger. A missing
// default config file means built-in defaults; a missing explicit one is an error.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if cmd.Flags().Changed("config") || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	logging.Global(cfg.Logging)
	return cfg, nil
}

func openTelemetry(cfg *config.Config) (*telemetry.FileStore, error) {
	return telemetry.NewFileStore(telemetry.Config{
		Dir:        cfg.Telemetry.Dir,
		MaxSizeMB:  cfg.Telemetry.MaxSizeMB,
		MaxBackups: cfg.Telemetry.MaxBackups,
		MaxAgeDays: cfg.Telemetry.MaxAgeDays,
		Compress:   cfg.Telemetry.Compress,
	})
}

// openCache builds the hybrid cache. It returns a nil cache when caching is
// disabled. The semantic store is enabled only with an embedding provider.
func openCache(cfg *config.Config, client *provider.Client) (*cache.Cache, func(), error) {
	noop := func() {}
	if !cfg.Cache.Enabled {
		return nil, noop, nil
	}

	var opts []cache.Option
	closeFn := noop
	if cfg.Cache.Persist {
		store, err := sqlite.New(cfg.Cache.DBPath)
		if err != nil {
			return nil, noop, err
		}
		opts = append(opts, cache.WithPersistence(store))
		closeFn = func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("close cache store")
			}
		}
	}
	if cfg.Embedding.Enabled && client != nil {
		emb, err := client.Embedder(cfg.Embedding.Provider, cfg.Embedding.Model)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		opts = append(opts, cache.WithEmbedder(emb))
	}

	c, err := cache.New(cache.Config{
		MaxMemoryBytes:      cfg.Cache.MaxMemoryBytes,
		TTL:                 cfg.Cache.TTL,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		Scope:               cache.Scope(cfg.Cache.SemanticScope),
	}, opts...)
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	return c, closeFn, nil
}

func newRouter(cfg *config.Config, store telemetry.Reader) *router.Router {
	return router.New(store, router.Config{
		MinSampleSize:        cfg.Router.MinSampleSize,
		FailureRateThreshold: cfg.Router.FailureRateThreshold,
		RecentWindowSize:     cfg.Router.RecentWindowSize,
		MinSuccessRate:       cfg.Router.MinSuccessRate,
		Lookback:             cfg.Router.Lookback,
		DefaultModels:        cfg.Tiers.Models,
	})
}

func newRecommender(cfg *config.Config) (*recommend.Recommender, error) {
	corpus, err := recommend.LoadCorpus(cfg.Recommender.PatternsDir)
	if err != nil {
		return nil, err
	}
	return recommend.New(corpus, recommend.Config{FallbackCost: cfg.Recommender.FallbackCost}), nil
}

func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
