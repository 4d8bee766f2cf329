package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/telemetry"
)

func newTelemetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect call and run telemetry",
	}

	var since string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cost, cache and savings totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			var from time.Time
			if since != "" {
				if from, err = time.Parse("2006-01-02", since); err != nil {
					return apperr.Validation("--since must be YYYY-MM-DD")
				}
			}

			stats, err := telemetry.ReadStats(context.Background(), cfg.Telemetry.Dir, from)
			if err != nil {
				return err
			}
			if stats.TotalCalls == 0 && stats.TotalRuns == 0 {
				fmt.Println("No telemetry recorded.")
				return nil
			}

			fmt.Printf("Calls:          %d (%d cache hits, %.1f%%)\n", stats.TotalCalls, stats.CacheHits, stats.CacheHitRate*100)
			fmt.Printf("Success rate:   %.1f%%\n", stats.SuccessRate*100)
			fmt.Printf("Tokens:         %d in / %d out\n", stats.InputTokens, stats.OutputTokens)
			fmt.Printf("Cost:           $%.4f\n", stats.TotalCost)
			fmt.Printf("Runs:           %d (%d successful)\n", stats.TotalRuns, stats.SuccessfulRuns)
			fmt.Printf("Baseline cost:  $%.4f\n", stats.BaselineCost)
			fmt.Printf("Savings:        $%.4f\n", stats.TotalSavings)
			if stats.SkippedLines > 0 {
				fmt.Printf("Skipped lines:  %d\n", stats.SkippedLines)
			}
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tCALLS\tSUCCESS\tINPUT\tOUTPUT\tCOST")
			for _, t := range models.AllTiers() {
				if u, ok := stats.ByTier[t]; ok {
					printUsage(w, string(t), u)
				}
			}
			fmt.Fprintln(w, "\t\t\t\t\t")
			fmt.Fprintln(w, "MODEL\tCALLS\tSUCCESS\tINPUT\tOUTPUT\tCOST")
			for _, m := range sortedKeys(stats.ByModel) {
				printUsage(w, m, stats.ByModel[m])
			}
			fmt.Fprintln(w, "\t\t\t\t\t")
			fmt.Fprintln(w, "WORKFLOW\tCALLS\tSUCCESS\tINPUT\tOUTPUT\tCOST")
			for _, wf := range sortedKeys(stats.ByWorkflow) {
				printUsage(w, wf, stats.ByWorkflow[wf])
			}
			return w.Flush()
		},
	}
	statsCmd.Flags().StringVar(&since, "since", "", "only count records on or after this date (YYYY-MM-DD)")

	var (
		follow    bool
		fromStart bool
		runs      bool
		raw       bool
	)
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print telemetry records, optionally following new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			name := telemetry.CallsFile
			if runs {
				name = telemetry.RunsFile
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return telemetry.Tail(ctx, cfg.Telemetry.Dir, name,
				telemetry.TailOptions{Follow: follow, FromStart: fromStart},
				func(line []byte) {
					if raw {
						fmt.Println(string(line))
						return
					}
					fmt.Println(telemetry.Summarize(line))
				})
		},
	}
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing records as they are appended")
	tailCmd.Flags().BoolVar(&fromStart, "from-start", false, "with --follow, print existing records first")
	tailCmd.Flags().BoolVar(&runs, "runs", false, "tail run summaries instead of calls")
	tailCmd.Flags().BoolVar(&raw, "raw", false, "print raw JSON lines")

	addConfigFlag(cmd, &configPath)
	cmd.AddCommand(statsCmd, tailCmd)
	return cmd
}

func printUsage(w *tabwriter.Writer, name string, u models.TierUsage) {
	rate := 0.0
	if u.Calls > 0 {
		rate = float64(u.Successes) / float64(u.Calls) * 100
	}
	fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%d\t%d\t$%.4f\n", name, u.Calls, rate, u.InputTokens, u.OutputTokens, u.Cost)
}

func sortedKeys(m map[string]models.TierUsage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
