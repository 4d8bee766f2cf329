package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/router"
)

func newRouteCmd() *cobra.Command {
	var (
		configPath   string
		workflow     string
		stage        string
		tier         string
		lookbackDays int
	)

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Query the adaptive model router",
	}

	// routeEnv is what every route subcommand needs.
	type routeEnv struct {
		router   *router.Router
		opts     []router.SelectOption
		lookback time.Duration
		close    func()
	}
	setup := func(cmd *cobra.Command) (*routeEnv, error) {
		cfg, err := loadConfig(cmd, configPath)
		if err != nil {
			return nil, err
		}
		env := &routeEnv{lookback: cfg.Router.Lookback}
		if tier != "" {
			t, err := models.ParseTier(tier)
			if err != nil {
				return nil, apperr.Validation("--tier: %v", err)
			}
			env.opts = append(env.opts, router.WithTier(t))
		}
		if cmd.Flags().Changed("lookback-days") {
			if lookbackDays <= 0 {
				return nil, apperr.Validation("--lookback-days must be positive")
			}
			env.lookback = time.Duration(lookbackDays) * 24 * time.Hour
			env.opts = append(env.opts, router.WithLookback(env.lookback))
		}
		if env.lookback <= 0 {
			env.lookback = router.DefaultLookback
		}
		store, err := openTelemetry(cfg)
		if err != nil {
			return nil, err
		}
		env.router = newRouter(cfg, store)
		env.close = func() { _ = store.Close() }
		return env, nil
	}

	var (
		minSuccess float64
		maxCost    float64
	)
	bestCmd := &cobra.Command{
		Use:   "best",
		Short: "Show the best performing model for a workflow stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			opts := env.opts
			if cmd.Flags().Changed("min-success-rate") {
				opts = append(opts, router.WithMinSuccessRate(minSuccess))
			}
			if cmd.Flags().Changed("max-cost") {
				opts = append(opts, router.WithMaxCost(maxCost))
			}
			sel := env.router.BestModel(context.Background(), workflow, stage, opts...)

			fmt.Printf("Model:    %s\n", sel.Model)
			fmt.Printf("Tier:     %s\n", sel.Tier)
			fmt.Printf("Fallback: %t\n", sel.FallbackUsed)
			fmt.Printf("Reason:   %s\n", sel.Reason)
			return nil
		},
	}
	bestCmd.Flags().Float64Var(&minSuccess, "min-success-rate", 0, "minimum success rate between 0 and 1")
	bestCmd.Flags().Float64Var(&maxCost, "max-cost", 0, "maximum average cost per call (USD)")

	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Check whether recent failures justify a higher tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			adv := env.router.RecommendTierUpgrade(context.Background(), workflow, stage, env.opts...)
			fmt.Printf("Upgrade:      %t\n", adv.Upgrade)
			fmt.Printf("Failure rate: %.1f%% over %d calls\n", adv.FailureRate*100, adv.SampleSize)
			fmt.Printf("Reason:       %s\n", adv.Reason)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-model performance for a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			stats, err := env.router.RoutingStats(context.Background(), workflow, stage, env.lookback)
			if err != nil {
				return err
			}
			if stats.TotalCalls == 0 {
				fmt.Println("No calls found.")
				return nil
			}

			ids := make([]string, 0, len(stats.PerformanceByModel))
			for id := range stats.PerformanceByModel {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tTIER\tCALLS\tSUCCESS\tAVG COST\tAVG LATENCY\tQUALITY")
			for _, id := range ids {
				p := stats.PerformanceByModel[id]
				fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t$%.4f\t%.0fms\t%.1f\n",
					p.ModelID, p.Tier, p.SampleSize, p.SuccessRate*100, p.AvgCost, p.AvgLatencyMs, p.QualityScore())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nTotal calls: %d  Avg cost: $%.4f  Avg success: %.1f%%\n",
				stats.TotalCalls, stats.AvgCost, stats.AvgSuccessRate*100)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	pf := cmd.PersistentFlags()
	pf.StringVarP(&workflow, "workflow", "w", "default", "workflow name")
	pf.StringVarP(&stage, "stage", "s", "", "stage name (empty for all stages)")
	pf.StringVar(&tier, "tier", "", "restrict to a tier (cheap, capable or premium)")
	pf.IntVar(&lookbackDays, "lookback-days", 0, "telemetry window in days (default from config)")
	cmd.AddCommand(bestCmd, upgradeCmd, statsCmd)
	return cmd
}
