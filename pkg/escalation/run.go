package escalation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/budget"
	"github.com/pario-ai/ladder/pkg/metrics"
	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/router"
)

type itemState struct {
	item        models.WorkItem
	output      string
	passed      bool
	tier        models.Tier
	diagnostics []string
	usage       budget.Usage // tokens of the last generated attempt
}

// outcome is what one item produced in one tier attempt.
type outcome struct {
	output    string
	gen       models.Generation
	cost      float64
	cacheHit  bool
	cacheType models.CacheType
	pass      bool
	diag      string
	err       error
	duration  time.Duration
}

// run is the state of one Controller.Run call. It is owned by that call.
type run struct {
	c      *Controller
	req    Request
	cfg    models.EscalationConfig
	costs  *budget.CostModel
	guard  *budget.Guard
	items  []*itemState
	result models.WorkflowResult
	logger zerolog.Logger
	spent  float64
}

func (r *run) pending() []*itemState {
	var out []*itemState
	for _, st := range r.items {
		if !st.passed {
			out = append(out, st)
		}
	}
	return out
}

// climb walks the tier order from start. Tier attempts are strictly sequential.
func (r *run) climb(ctx context.Context, start int) error {
	attempts := max(1, r.cfg.MinAttemptsPerTier)
	var prev models.Tier

	for ti := start; ti < len(r.cfg.TierOrder); ti++ {
		tier := r.cfg.TierOrder[ti]
		model := r.model(ctx, tier)
		if model == "" {
			r.skip(tier, "no model configured for tier")
			continue
		}

		for attempt := 1; attempt <= attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				r.exhaust("run cancelled")
				return err
			}
			if prev != "" {
				if reason, ok := r.mayContinue(tier, prev); !ok {
					r.skip(tier, reason)
					r.exhaust(reason)
					return nil
				}
				if tier != prev {
					metrics.Escalations.WithLabelValues(string(prev), string(tier)).Inc()
					r.logger.Info().Str("from", string(prev)).Str("to", string(tier)).
						Int("items", len(r.pending())).Float64("spent", r.spent).Msg("escalating")
				}
			}

			r.attempt(ctx, tier, model, attempt)
			prev = tier
			if len(r.pending()) == 0 {
				r.result.State = models.StateDone
				r.result.Success = true
				return nil
			}
		}
	}

	if prev == "" {
		r.exhaust("no tier could run")
	} else {
		r.exhaust("no higher tier available")
	}
	return nil
}

// mayContinue decides whether another attempt at tier may start after a
// failed attempt at prev.
func (r *run) mayContinue(tier, prev models.Tier) (string, bool) {
	if tier != prev && !r.cfg.Enabled {
		return "escalation disabled", false
	}
	pending := r.pending()
	usages := make([]budget.Usage, len(pending))
	for i, st := range pending {
		usages[i] = st.usage
	}
	estimate := r.costs.Estimate(tier, usages)
	if err := r.guard.Check(r.spent, estimate); err != nil {
		r.logger.Info().Err(err).Str("tier", string(tier)).Float64("spent", r.spent).
			Float64("estimate", estimate).Msg("escalation stopped")
		return err.Error(), false
	}
	return "", true
}

func (r *run) model(ctx context.Context, tier models.Tier) string {
	if r.c.deps.Router != nil {
		sel := r.c.deps.Router.BestModel(ctx, r.req.Workflow, r.req.Stage, router.WithTier(tier))
		if sel.Model != "" {
			r.logger.Debug().Str("tier", string(tier)).Str("model", sel.Model).
				Bool("fallback", sel.FallbackUsed).Str("reason", sel.Reason).Msg("model selected")
			return sel.Model
		}
	}
	return r.c.deps.Models[tier]
}

func (r *run) skip(tier models.Tier, reason string) {
	r.result.Stages = append(r.result.Stages, models.WorkflowStage{
		Name:       r.req.Stage,
		Tier:       tier,
		Skipped:    true,
		SkipReason: reason,
	})
}

func (r *run) exhaust(reason string) {
	r.result.State = models.StateExhausted
	r.result.Success = false
	r.result.ExhaustedReason = reason
}

// attempt runs every pending item once at tier. Items run concurrently up to
// the configured limit; results are applied in item order.
func (r *run) attempt(ctx context.Context, tier models.Tier, model string, attempt int) {
	pending := r.pending()
	started := r.c.now()

	outcomes := make([]outcome, len(pending))
	var g errgroup.Group
	g.SetLimit(max(1, r.cfg.Concurrency))
	for i, st := range pending {
		i, st := i, st // per-iteration copy (Go 1.22 loopvar semantics)
		g.Go(func() error {
			outcomes[i] = r.runItem(ctx, st, tier, model)
			return nil
		})
	}
	_ = g.Wait()

	stage := models.WorkflowStage{
		Name:    r.req.Stage,
		Tier:    tier,
		Model:   model,
		Attempt: attempt,
	}
	for i, st := range pending {
		out := outcomes[i]
		stage.Cost += out.cost
		stage.InputTokens += out.gen.InputTokens
		stage.OutputTokens += out.gen.OutputTokens
		if out.cacheHit {
			stage.CacheHits++
		}

		st.output = out.output
		st.tier = tier
		if out.gen.InputTokens > 0 || out.gen.OutputTokens > 0 {
			st.usage = budget.Usage{InputTokens: out.gen.InputTokens, OutputTokens: out.gen.OutputTokens}
		}
		if out.pass {
			st.passed = true
			stage.ItemsPassed++
			continue
		}
		stage.ItemsFailed++
		diag := out.diag
		if diag == "" {
			diag = "quality check failed"
		}
		st.diagnostics = append(st.diagnostics, fmt.Sprintf("[%s] %s", tier, diag))
	}
	stage.Success = stage.ItemsFailed == 0
	stage.DurationMs = r.c.now().Sub(started).Milliseconds()

	r.spent += stage.Cost
	r.result.Stages = append(r.result.Stages, stage)

	r.logger.Info().
		Str("tier", string(tier)).
		Str("model", model).
		Int("attempt", attempt).
		Int("passed", stage.ItemsPassed).
		Int("failed", stage.ItemsFailed).
		Int("cache_hits", stage.CacheHits).
		Float64("cost", stage.Cost).
		Msg("tier attempt complete")
}

// runItem obtains output for one item through the cache, then the generator,
// and applies the quality gate. Only passing generated output is cached.
func (r *run) runItem(ctx context.Context, st *itemState, tier models.Tier, model string) outcome {
	var (
		out     outcome
		prompt  = buildPrompt(st)
		started = r.c.now()
		wf      = r.req.Workflow
		stage   = r.req.Stage
		c       = r.c.deps.Cache
	)

	if c != nil {
		if hit, ok := c.Get(ctx, wf, stage, prompt, model); ok {
			out.output = string(hit.Value)
			out.cacheHit = true
			out.cacheType = hit.Type
		}
	}

	if !out.cacheHit {
		gen, err := r.c.deps.Generator.Generate(ctx, prompt, model)
		if err != nil {
			out.err = apperr.Collaborator("generate failed", err)
			out.diag = "generation failed: " + err.Error()
			r.logger.Warn().Err(err).Str("item", st.item.ID).Str("tier", string(tier)).
				Str("model", model).Msg("generate failed")
		} else {
			out.output = gen.Text
			out.gen = gen
			out.cost = r.costs.Cost(tier, gen.InputTokens, gen.OutputTokens)
		}
	}

	if out.err == nil {
		out.pass, out.diag = r.req.Gate(st.item, out.output)
		if out.pass && !out.cacheHit && c != nil {
			c.Put(ctx, wf, stage, prompt, model, []byte(out.output))
		}
	}
	out.duration = r.c.now().Sub(started)

	r.record(ctx, tier, model, out)
	return out
}

// record writes the call record. Telemetry is best effort and never fails the run.
func (r *run) record(ctx context.Context, tier models.Tier, model string, out outcome) {
	metrics.LLMCalls.WithLabelValues(string(tier), strconv.FormatBool(out.pass)).Inc()
	if r.c.deps.Telemetry == nil {
		return
	}

	rec := models.LLMCallRecord{
		Timestamp:    r.c.now(),
		Workflow:     r.req.Workflow,
		Stage:        r.req.Stage,
		Tier:         tier,
		ModelID:      model,
		Provider:     out.gen.Provider,
		InputTokens:  out.gen.InputTokens,
		OutputTokens: out.gen.OutputTokens,
		Cost:         out.cost,
		DurationMs:   out.duration.Milliseconds(),
		CacheHit:     out.cacheHit,
		CacheType:    out.cacheType,
		Success:      out.pass,
	}
	switch {
	case out.err != nil:
		rec.ErrorMessage = out.err.Error()
	case !out.pass:
		rec.ErrorMessage = out.diag
	}
	if err := r.c.deps.Telemetry.LogCall(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record call")
	}
}

// buildPrompt appends the diagnostics of earlier failed attempts so the next
// tier sees why they were rejected.
func buildPrompt(st *itemState) string {
	if len(st.diagnostics) == 0 {
		return st.item.Prompt
	}
	var b strings.Builder
	b.WriteString(st.item.Prompt)
	b.WriteString("\n\nPrevious attempts did not pass the quality check:\n")
	for _, d := range st.diagnostics {
		b.WriteString("- ")
		b.WriteString(d)
		b.WriteByte('\n')
	}
	return b.String()
}

// finish fills in outputs and the cost report and records the run summary.
func (r *run) finish(ctx context.Context, runErr error) {
	res := &r.result
	res.CompletedAt = r.c.now()
	if runErr != nil {
		res.Error = runErr.Error()
	}

	res.Outputs = make([]models.ItemOutput, len(r.items))
	var final []string
	for i, st := range r.items {
		o := models.ItemOutput{
			ItemID: st.item.ID,
			Output: st.output,
			Passed: st.passed,
			Tier:   st.tier,
		}
		if !st.passed && len(st.diagnostics) > 0 {
			o.Diagnostic = st.diagnostics[len(st.diagnostics)-1]
		}
		res.Outputs[i] = o
		if st.output != "" {
			final = append(final, st.output)
		}
	}
	res.FinalOutput = strings.Join(final, "\n\n")
	res.CostReport = r.costs.Report(res.Stages)

	metrics.Runs.WithLabelValues(string(res.State)).Inc()
	metrics.RunCostUSD.Observe(res.CostReport.TotalCost)

	ev := r.logger.Info()
	if !res.Success {
		ev = r.logger.Warn().Str("reason", res.ExhaustedReason)
	}
	ev.Str("state", string(res.State)).
		Int("stages", len(res.Stages)).
		Float64("cost", res.CostReport.TotalCost).
		Float64("baseline", res.CostReport.BaselineCost).
		Float64("savings_pct", res.CostReport.SavingsPercent).
		Msg("run complete")

	if r.c.deps.Telemetry == nil {
		return
	}
	rec := models.WorkflowRunRecord{
		RunID:          res.RunID,
		Workflow:       res.Workflow,
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
		Success:        res.Success,
		State:          res.State,
		TotalCost:      res.CostReport.TotalCost,
		BaselineCost:   res.CostReport.BaselineCost,
		Savings:        res.CostReport.Savings,
		SavingsPercent: res.CostReport.SavingsPercent,
		StageCount:     len(res.Stages),
		FinalTier:      res.FinalTier(),
		Error:          res.Error,
	}
	if err := r.c.deps.Telemetry.LogRun(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record run")
	}
}
