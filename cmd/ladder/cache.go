package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/ladder/pkg/cache"
	"github.com/pario-ai/ladder/pkg/cache/sqlite"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if !cfg.Cache.Persist {
				fmt.Println("Cache persistence is disabled; the cache lives only for the duration of a run.")
				return nil
			}
			store, err := sqlite.New(cfg.Cache.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			total, err := store.Count()
			if err != nil {
				return err
			}
			// Warming applies the same expiry and memory limits as a run.
			c, err := cache.New(cache.Config{
				MaxMemoryBytes: cfg.Cache.MaxMemoryBytes,
				TTL:            cfg.Cache.TTL,
			}, cache.WithPersistence(store))
			if err != nil {
				return err
			}
			st := c.Stats()

			fmt.Printf("Stored:  %d\n", total)
			fmt.Printf("Live:    %d\n", st.Entries)
			fmt.Printf("Evicted: %d on load\n", st.Evictions)
			fmt.Printf("Memory:  %d bytes\n", st.MemoryBytes)
			fmt.Printf("DB:      %s\n", cfg.Cache.DBPath)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.Cache.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Clear(expiredOnly, time.Now()); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	addConfigFlag(cmd, &configPath)
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
