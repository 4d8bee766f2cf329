// Package escalation runs work items up a ladder of model tiers: cheapest
// first, escalating only the items that fail their quality gate and only
// while the run stays within budget.
package escalation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/budget"
	"github.com/pario-ai/ladder/pkg/cache"
	"github.com/pario-ai/ladder/pkg/gate"
	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/recommend"
	"github.com/pario-ai/ladder/pkg/router"
	"github.com/pario-ai/ladder/pkg/telemetry"
)

// Generator produces text for a prompt with the given model.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (models.Generation, error)
}

// ModelSelector picks the model to use for a tier. *router.Router implements it.
type ModelSelector interface {
	BestModel(ctx context.Context, workflow, stage string, opts ...router.SelectOption) router.Selection
}

// TierRecommender suggests a starting tier. *recommend.Recommender implements it.
type TierRecommender interface {
	Recommend(req recommend.Request) (models.TierRecommendation, error)
}

// Deps are the collaborators of a Controller. Only Generator is required.
// Without Pricing every call is free.
type Deps struct {
	Generator Generator
	Pricing   map[models.Tier]models.TierPricing

	// Models maps tiers to models when no Router is set, and backs up a
	// Router that has no default for a tier.
	Models      map[models.Tier]string
	Router      ModelSelector
	Recommender TierRecommender
	Cache       *cache.Cache
	Telemetry   telemetry.Recorder
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller runs escalation workflows. It holds no per-run state and is safe
// for concurrent runs.
type Controller struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Controller.
func New(deps Deps, opts ...Option) (*Controller, error) {
	if deps.Generator == nil {
		return nil, errors.New("escalation: generator is required")
	}
	c := &Controller{
		deps:   deps,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes one run.
type Request struct {
	Workflow string
	Stage    string
	Items    []models.WorkItem
	Gate     gate.Func
	Config   models.EscalationConfig

	// Confirm is asked before an escalation that takes the projected cost
	// above Config.AutoApproveUnder. Nil declines.
	Confirm budget.ConfirmFunc

	// StartTier overrides the first tier. It must be in the tier order.
	StartTier models.Tier
	// Recommend asks the recommender for a starting tier when StartTier is empty.
	Recommend *recommend.Request
}

func (r *Request) validate() error {
	if strings.TrimSpace(r.Workflow) == "" {
		return apperr.Validation("workflow is required")
	}
	if len(r.Items) == 0 {
		return apperr.Validation("at least one item is required")
	}
	if r.Gate == nil {
		return apperr.Validation("quality gate is required")
	}
	seen := make(map[string]bool, len(r.Items))
	for i, it := range r.Items {
		if it.ID == "" {
			return apperr.Validation("items[%d]: id is required", i)
		}
		if seen[it.ID] {
			return apperr.Validation("items[%d]: duplicate id %q", i, it.ID)
		}
		seen[it.ID] = true
	}
	for _, t := range r.Config.TierOrder {
		if !t.Valid() {
			return apperr.Validation("unknown tier %q in tier order", t)
		}
	}
	return nil
}

// Run drives req to Done or Exhausted. Running out of budget, approval or
// tiers is reported through the result's State, not as an error. The error
// is non-nil only for an invalid request or when ctx ended the run early; in
// the latter case the partial result is still returned and recorded.
func (c *Controller) Run(ctx context.Context, req Request) (models.WorkflowResult, error) {
	if err := req.validate(); err != nil {
		return models.WorkflowResult{}, err
	}
	cfg := req.Config
	if len(cfg.TierOrder) == 0 {
		cfg.TierOrder = models.DefaultTierOrder
	}

	r := &run{
		c:     c,
		req:   req,
		cfg:   cfg,
		costs: budget.NewCostModel(c.deps.Pricing, cfg.TierOrder),
		guard: budget.NewGuard(cfg, req.Confirm),
		items: make([]*itemState, len(req.Items)),
		result: models.WorkflowResult{
			RunID:     uuid.NewString(),
			Workflow:  req.Workflow,
			StartedAt: c.now(),
		},
	}
	for i, it := range req.Items {
		r.items[i] = &itemState{item: it}
	}
	r.logger = c.logger.With().
		Str("run_id", r.result.RunID).
		Str("workflow", req.Workflow).
		Str("stage", req.Stage).
		Logger()

	start, err := r.startIndex()
	if err != nil {
		return models.WorkflowResult{}, err
	}

	runErr := r.climb(ctx, start)
	r.finish(ctx, runErr)
	return r.result, runErr
}

// startIndex resolves the first tier from StartTier or the recommender.
func (r *run) startIndex() (int, error) {
	want := r.req.StartTier
	if want == "" && r.req.Recommend != nil && r.c.deps.Recommender != nil {
		rec, err := r.c.deps.Recommender.Recommend(*r.req.Recommend)
		if err != nil {
			return 0, err
		}
		r.result.Recommendation = &rec
		want = rec.Tier
		r.logger.Debug().Str("tier", string(rec.Tier)).Float64("confidence", rec.Confidence).
			Bool("fallback", rec.FallbackUsed).Msg("recommended starting tier")
	}
	if want == "" {
		return 0, nil
	}
	for i, t := range r.cfg.TierOrder {
		if t == want {
			return i, nil
		}
	}
	if r.req.StartTier != "" {
		return 0, apperr.Validation("start tier %q is not in the tier order", want)
	}
	// A recommendation outside the configured ladder starts from the bottom.
	return 0, nil
}
