package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/budget"
	"github.com/pario-ai/ladder/pkg/escalation"
	"github.com/pario-ai/ladder/pkg/gate"
	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/provider"
	"github.com/pario-ai/ladder/pkg/recommend"
)

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		itemsPath   string
		prompt      string
		workflow    string
		stage       string
		startTier   string
		describe    string
		files       []string
		complexity  int
		gates       []string
		maxCost     float64
		autoApprove float64
		concurrency int
		noEscalate  bool
		yes         bool
		asJSON      bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run work items up the tier ladder until they pass the quality gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}

			items, err := readItems(itemsPath, prompt)
			if err != nil {
				return err
			}
			check, err := gate.Parse(gates)
			if err != nil {
				return err
			}

			esc := cfg.Escalation
			flags := cmd.Flags()
			if flags.Changed("max-cost") {
				esc.MaxCost = maxCost
			}
			if flags.Changed("auto-approve-under") {
				esc.AutoApproveUnder = autoApprove
			}
			if flags.Changed("concurrency") {
				esc.Concurrency = concurrency
			}
			if noEscalate {
				esc.Enabled = false
			}

			req := escalation.Request{
				Workflow: workflow,
				Stage:    stage,
				Items:    items,
				Gate:     check,
				Config:   esc,
				Confirm:  confirmFunc(yes),
			}
			if startTier != "" {
				if req.StartTier, err = models.ParseTier(startTier); err != nil {
					return apperr.Validation("--start-tier: %v", err)
				}
			} else if describe != "" {
				rr := &recommend.Request{Description: describe, FilesAffected: files}
				if flags.Changed("complexity") {
					rr.ComplexityHint = &complexity
				}
				req.Recommend = rr
			}

			client := provider.NewClient(cfg)
			store, err := openTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			c, closeCache, err := openCache(cfg, client)
			if err != nil {
				return fmt.Errorf("init cache: %w", err)
			}
			defer closeCache()

			rec, err := newRecommender(cfg)
			if err != nil {
				return err
			}

			deps := escalation.Deps{
				Generator:   client,
				Pricing:     cfg.Tiers.Pricing,
				Models:      cfg.Tiers.Models,
				Router:      newRouter(cfg, store),
				Recommender: rec,
				Cache:       c,
				Telemetry:   store,
			}
			ctrl, err := escalation.New(deps)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				shutdown := serveMetrics(metricsAddr)
				defer shutdown()
			}

			result, runErr := ctrl.Run(ctx, req)
			if runErr != nil && result.RunID == "" {
				return runErr
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else if err := printResult(os.Stdout, result); err != nil {
				return err
			}

			if runErr != nil {
				return runErr
			}
			if result.State == models.StateExhausted {
				return fmt.Errorf("run %s exhausted: %s", result.RunID, result.ExhaustedReason)
			}
			return nil
		},
	}

	f := cmd.Flags()
	addConfigFlag(cmd, &configPath)
	f.StringVarP(&itemsPath, "items", "i", "", "JSON or JSONL file of {id, prompt} items (- for stdin)")
	f.StringVarP(&prompt, "prompt", "p", "", "run a single prompt instead of an items file")
	f.StringVarP(&workflow, "workflow", "w", "default", "workflow name used for telemetry, routing and caching")
	f.StringVarP(&stage, "stage", "s", "generate", "stage name within the workflow")
	f.StringVar(&startTier, "start-tier", "", "first tier to try (cheap, capable or premium)")
	f.StringVar(&describe, "describe", "", "task description used to recommend a starting tier")
	f.StringSliceVar(&files, "files", nil, "files affected, for the tier recommendation")
	f.IntVar(&complexity, "complexity", 0, "complexity hint 1-10, for the tier recommendation")
	f.StringArrayVarP(&gates, "gate", "g", nil, "quality gate: nonempty, min:N, contains:S, regexp:R or json[:path,...] (repeatable)")
	f.Float64Var(&maxCost, "max-cost", 0, "override escalation.max_cost (USD)")
	f.Float64Var(&autoApprove, "auto-approve-under", 0, "override escalation.auto_approve_under (USD)")
	f.IntVar(&concurrency, "concurrency", 0, "override escalation.concurrency")
	f.BoolVar(&noEscalate, "no-escalate", false, "stay on the starting tier")
	f.BoolVarP(&yes, "yes", "y", false, "approve every escalation without asking")
	f.BoolVar(&asJSON, "json", false, "print the full result as JSON")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

// readItems loads work items from path, or wraps a single prompt.
func readItems(path, prompt string) ([]models.WorkItem, error) {
	switch {
	case path != "" && prompt != "":
		return nil, apperr.Validation("use either --items or --prompt, not both")
	case prompt != "":
		return []models.WorkItem{{ID: "item-1", Prompt: prompt}}, nil
	case path == "":
		return nil, apperr.Validation("one of --items or --prompt is required")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return parseItems(data)
}

// parseItems accepts a JSON array, an object with an "items" array, or JSONL.
// Items without an id are numbered by position.
func parseItems(data []byte) ([]models.WorkItem, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, apperr.Validation("items file is empty")
	}

	var raw []gjson.Result
	switch {
	case gjson.Valid(text) && gjson.Parse(text).IsArray():
		raw = gjson.Parse(text).Array()
	case gjson.Valid(text) && gjson.Get(text, "items").IsArray():
		raw = gjson.Get(text, "items").Array()
	default:
		for n, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !gjson.Valid(line) {
				return nil, apperr.Validation("items line %d is not valid JSON", n+1)
			}
			raw = append(raw, gjson.Parse(line))
		}
	}

	items := make([]models.WorkItem, 0, len(raw))
	for i, r := range raw {
		if !r.IsObject() {
			return nil, apperr.Validation("items[%d] must be an object", i)
		}
		p := r.Get("prompt")
		if p.Type != gjson.String || strings.TrimSpace(p.Str) == "" {
			return nil, apperr.Validation("items[%d]: prompt is required", i)
		}
		id := r.Get("id").String()
		if id == "" {
			id = fmt.Sprintf("item-%d", i+1)
		}
		items = append(items, models.WorkItem{ID: id, Prompt: p.Str})
	}
	return items, nil
}

// confirmFunc asks on the terminal before an escalation above the
// auto-approve threshold. Without a terminal escalations are declined.
func confirmFunc(yes bool) budget.ConfirmFunc {
	if yes {
		return func(float64, float64) bool { return true }
	}
	if !stdinIsTerminal() {
		return nil
	}
	in := bufio.NewReader(os.Stdin)
	return func(current, projected float64) bool {
		fmt.Fprintf(os.Stderr, "Escalating raises the run cost from $%.4f to about $%.4f. Continue? [y/N] ", current, projected)
		answer, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printResult(w io.Writer, res models.WorkflowResult) error {
	if rec := res.Recommendation; rec != nil {
		fmt.Fprintf(w, "Recommended start: %s (confidence %.0f%%, %s)\n\n", rec.Tier, rec.Confidence*100, rec.Reasoning)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTIER\tMODEL\tPASSED\tFAILED\tCACHE HITS\tCOST\tDURATION\tNOTE")
	for _, s := range res.Stages {
		if s.Skipped {
			fmt.Fprintf(tw, "-\t%s\t-\t-\t-\t-\t-\t-\tskipped: %s\n", s.Tier, s.SkipReason)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t$%.4f\t%dms\t\n",
			s.Attempt, s.Tier, s.Model, s.ItemsPassed, s.ItemsFailed, s.CacheHits, s.Cost, s.DurationMs)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	cr := res.CostReport
	fmt.Fprintf(w, "\nRun %s: %s\n", res.RunID, res.State)
	if res.ExhaustedReason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", res.ExhaustedReason)
	}
	fmt.Fprintf(w, "Cost:     $%.4f (baseline $%.4f, saved $%.4f / %.1f%%)\n",
		cr.TotalCost, cr.BaselineCost, cr.Savings, cr.SavingsPercent)

	fmt.Fprintln(w)
	for _, o := range res.Outputs {
		status := "FAIL"
		if o.Passed {
			status = "PASS"
		}
		fmt.Fprintf(w, "[%s] %s (%s)\n", status, o.ItemID, o.Tier)
		if o.Passed {
			fmt.Fprintln(w, o.Output)
		} else if o.Diagnostic != "" {
			fmt.Fprintf(w, "  %s\n", o.Diagnostic)
		}
		fmt.Fprintln(w)
	}
	return nil
}
