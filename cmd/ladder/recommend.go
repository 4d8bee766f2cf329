package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/ladder/pkg/recommend"
)

func newRecommendCmd() *cobra.Command {
	var (
		configPath string
		files      []string
		complexity int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "recommend <description>",
		Short: "Recommend a starting tier from historical patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			rec, err := newRecommender(cfg)
			if err != nil {
				return err
			}

			req := recommend.Request{
				Description:   strings.Join(args, " "),
				FilesAffected: files,
			}
			if cmd.Flags().Changed("complexity") {
				req.ComplexityHint = &complexity
			}
			out, err := rec.Recommend(req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Printf("Tier:              %s\n", out.Tier)
			fmt.Printf("Confidence:        %.0f%%\n", out.Confidence*100)
			fmt.Printf("Expected cost:     $%.4f\n", out.ExpectedCost)
			fmt.Printf("Expected attempts: %.1f\n", out.ExpectedAttempts)
			fmt.Printf("Bug type:          %s\n", out.BugType)
			fmt.Printf("Similar patterns:  %d\n", out.SimilarPatternCount)
			fmt.Printf("Reasoning:         %s\n", out.Reasoning)
			return nil
		},
	}

	corpusCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Summarize the pattern corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			rec, err := newRecommender(cfg)
			if err != nil {
				return err
			}
			st := rec.Stats()

			fmt.Printf("Files:    %d (%d malformed)\n", st.Files, st.MalformedFiles)
			fmt.Printf("Patterns: %d\n", st.Patterns)
			if st.Patterns == 0 {
				return nil
			}
			fmt.Printf("Success:  %.1f%%\n", st.SuccessRate*100)
			fmt.Printf("Avg cost: $%.4f\n\n", st.AvgCost)

			types := make([]string, 0, len(st.ByBugType))
			for t := range st.ByBugType {
				types = append(types, t)
			}
			sort.Strings(types)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUG TYPE\tPATTERNS")
			for _, t := range types {
				fmt.Fprintf(w, "%s\t%d\n", t, st.ByBugType[t])
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringSliceVar(&files, "files", nil, "files affected (paths or globs)")
	cmd.Flags().IntVar(&complexity, "complexity", 0, "complexity hint from 1 to 10")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the recommendation as JSON")
	cmd.AddCommand(corpusCmd)
	return cmd
}
