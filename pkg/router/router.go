// Package router picks models from observed telemetry.
//
// Every decision is computed from a fresh telemetry read; the router keeps no
// state between calls and is safe for concurrent use.
package router

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/ladder/pkg/metrics"
	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/telemetry"
)

const (
	DefaultMinSampleSize        = 10
	DefaultFailureRateThreshold = 0.2
	DefaultRecentWindowSize     = 20
	DefaultMinSuccessRate       = 0.8
	DefaultLookback             = 7 * 24 * time.Hour
)

// Fallback reasons.
const (
	ReasonTelemetryError   = "telemetry unavailable"
	ReasonInsufficientData = "insufficient data"
	ReasonNoCandidate      = "no candidate met constraints"
)

// Config holds the router thresholds and per-tier default models.
type Config struct {
	MinSampleSize        int
	FailureRateThreshold float64
	RecentWindowSize     int
	// MinSuccessRate and Lookback are the query defaults when a caller
	// passes no WithMinSuccessRate or WithLookback.
	MinSuccessRate float64
	Lookback       time.Duration
	DefaultModels  map[models.Tier]string
}

// DefaultConfig returns the default thresholds with no default models.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:        DefaultMinSampleSize,
		FailureRateThreshold: DefaultFailureRateThreshold,
		RecentWindowSize:     DefaultRecentWindowSize,
		MinSuccessRate:       DefaultMinSuccessRate,
		Lookback:             DefaultLookback,
		DefaultModels:        map[models.Tier]string{},
	}
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the time source used for lookback windows.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// Router ranks models by quality score over a telemetry window.
type Router struct {
	store  telemetry.Reader
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Router. Zero thresholds in cfg take their defaults.
func New(store telemetry.Reader, cfg Config, opts ...Option) *Router {
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = DefaultMinSampleSize
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if cfg.RecentWindowSize <= 0 {
		cfg.RecentWindowSize = DefaultRecentWindowSize
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = DefaultMinSuccessRate
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	r := &Router{
		store:  store,
		cfg:    cfg,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type selectQuery struct {
	minSuccessRate float64
	maxCost        *float64
	maxLatencyMs   *float64
	lookback       time.Duration
	tier           models.Tier
}

// SelectOption adjusts a single router query.
type SelectOption func(*selectQuery)

// WithMinSuccessRate sets the minimum success rate a candidate needs.
func WithMinSuccessRate(rate float64) SelectOption {
	return func(q *selectQuery) { q.minSuccessRate = rate }
}

// WithMaxCost excludes candidates whose average cost is above usd.
func WithMaxCost(usd float64) SelectOption {
	return func(q *selectQuery) { q.maxCost = &usd }
}

// WithMaxLatency excludes candidates whose average latency is above ms.
func WithMaxLatency(ms float64) SelectOption {
	return func(q *selectQuery) { q.maxLatencyMs = &ms }
}

// WithLookback sets the telemetry window.
func WithLookback(d time.Duration) SelectOption {
	return func(q *selectQuery) { q.lookback = d }
}

// WithTier restricts candidates to calls made at tier and selects that tier's
// default model on fallback.
func WithTier(t models.Tier) SelectOption {
	return func(q *selectQuery) { q.tier = t }
}

func (r *Router) buildQuery(opts []SelectOption) selectQuery {
	q := selectQuery{minSuccessRate: r.cfg.MinSuccessRate, lookback: r.cfg.Lookback}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// Selection is the outcome of BestModel.
type Selection struct {
	Model        string                   `json:"model"`
	Tier         models.Tier              `json:"tier"`
	FallbackUsed bool                     `json:"fallback_used"`
	Reason       string                   `json:"reason"`
	Performance  *models.ModelPerformance `json:"performance,omitempty"`
}

// UpgradeAdvice is the outcome of RecommendTierUpgrade.
type UpgradeAdvice struct {
	Upgrade     bool    `json:"upgrade"`
	Reason      string  `json:"reason"`
	FailureRate float64 `json:"failure_rate"`
	SampleSize  int     `json:"sample_size"`
}

// RoutingStats is a reporting view over a telemetry window.
type RoutingStats struct {
	TotalCalls         int                                `json:"total_calls"`
	AvgCost            float64                            `json:"avg_cost"`
	AvgSuccessRate     float64                            `json:"avg_success_rate"`
	ModelsUsed         []string                           `json:"models_used"`
	PerformanceByModel map[string]models.ModelPerformance `json:"performance_by_model"`
}

// records returns the calls in the window that reached a model. Cache hits are dropped.
func (r *Router) records(ctx context.Context, workflow, stage string, q selectQuery) ([]models.LLMCallRecord, error) {
	recs, err := r.store.Calls(ctx, telemetry.Query{
		Workflow: workflow,
		Stage:    stage,
		Tier:     q.tier,
		Since:    r.now().Add(-q.lookback),
	})
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(recs, func(rec models.LLMCallRecord) bool { return rec.CacheHit }), nil
}

// BestModel returns the model with the highest quality score among those with
// enough samples that meet the constraints. When none qualifies it returns the
// tier's default model with FallbackUsed set.
func (r *Router) BestModel(ctx context.Context, workflow, stage string, opts ...SelectOption) Selection {
	q := r.buildQuery(opts)

	recs, err := r.records(ctx, workflow, stage, q)
	if err != nil {
		r.logger.Warn().Err(err).Str("workflow", workflow).Str("stage", stage).
			Msg("router telemetry read failed, using default model")
		return r.fallback(q, ReasonTelemetryError)
	}

	var (
		best     *models.ModelPerformance
		eligible int
	)
	for _, p := range Aggregate(recs, r.cfg.RecentWindowSize) {
		p := p // per-iteration copy (Go 1.22 loopvar semantics)
		if p.SampleSize < r.cfg.MinSampleSize {
			continue
		}
		eligible++
		if p.SuccessRate < q.minSuccessRate {
			continue
		}
		if q.maxCost != nil && p.AvgCost > *q.maxCost {
			continue
		}
		if q.maxLatencyMs != nil && p.AvgLatencyMs > *q.maxLatencyMs {
			continue
		}
		if best == nil || better(p, *best) {
			best = &p
		}
	}

	if best == nil {
		reason := ReasonNoCandidate
		if eligible == 0 {
			reason = ReasonInsufficientData
		}
		return r.fallback(q, reason)
	}

	return Selection{
		Model:       best.ModelID,
		Tier:        best.Tier,
		Reason:      fmt.Sprintf("quality score %.1f over %d calls", best.QualityScore(), best.SampleSize),
		Performance: best,
	}
}

// better reports whether a outranks b: higher quality score, then lower
// latency, then model id for a stable order.
func better(a, b models.ModelPerformance) bool {
	if sa, sb := a.QualityScore(), b.QualityScore(); sa != sb {
		return sa > sb
	}
	if a.AvgLatencyMs != b.AvgLatencyMs {
		return a.AvgLatencyMs < b.AvgLatencyMs
	}
	return a.ModelID < b.ModelID
}

func (r *Router) fallback(q selectQuery, reason string) Selection {
	tier := q.tier
	if tier == "" {
		tier = models.TierCheap
	}
	metrics.RouterFallbacks.WithLabelValues(reason).Inc()
	return Selection{
		Model:        r.cfg.DefaultModels[tier],
		Tier:         tier,
		FallbackUsed: true,
		Reason:       reason,
	}
}

// RecommendTierUpgrade reports whether the recent failure rate for a
// workflow stage justifies moving to a higher tier.
func (r *Router) RecommendTierUpgrade(ctx context.Context, workflow, stage string, opts ...SelectOption) UpgradeAdvice {
	q := r.buildQuery(opts)

	recs, err := r.records(ctx, workflow, stage, q)
	if err != nil {
		r.logger.Warn().Err(err).Str("workflow", workflow).Msg("router telemetry read failed")
		return UpgradeAdvice{Reason: ReasonInsufficientData}
	}
	if len(recs) < r.cfg.MinSampleSize {
		return UpgradeAdvice{Reason: ReasonInsufficientData, SampleSize: len(recs)}
	}

	recent := recs
	if len(recent) > r.cfg.RecentWindowSize {
		recent = recent[len(recent)-r.cfg.RecentWindowSize:]
	}
	failures := 0
	for i := range recent {
		if !recent[i].Success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(recent))

	if rate > r.cfg.FailureRateThreshold {
		return UpgradeAdvice{
			Upgrade:     true,
			Reason:      fmt.Sprintf("high failure rate: %.2f", rate),
			FailureRate: rate,
			SampleSize:  len(recs),
		}
	}
	return UpgradeAdvice{Reason: "performance acceptable", FailureRate: rate, SampleSize: len(recs)}
}

// RoutingStats summarizes calls for a workflow. An empty stage covers all stages.
func (r *Router) RoutingStats(ctx context.Context, workflow, stage string, lookback time.Duration) (RoutingStats, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	recs, err := r.records(ctx, workflow, stage, selectQuery{lookback: lookback})
	if err != nil {
		return RoutingStats{}, err
	}

	stats := RoutingStats{
		TotalCalls:         len(recs),
		ModelsUsed:         []string{},
		PerformanceByModel: make(map[string]models.ModelPerformance),
	}
	if len(recs) == 0 {
		return stats, nil
	}

	var cost float64
	successes := 0
	for i := range recs {
		cost += recs[i].Cost
		if recs[i].Success {
			successes++
		}
	}
	stats.AvgCost = cost / float64(len(recs))
	stats.AvgSuccessRate = float64(successes) / float64(len(recs))

	for _, p := range Aggregate(recs, r.cfg.RecentWindowSize) {
		stats.ModelsUsed = append(stats.ModelsUsed, p.ModelID)
		stats.PerformanceByModel[p.ModelID] = p
	}
	return stats, nil
}

// Aggregate groups records (oldest first) by model and returns one
// ModelPerformance per model sorted by model id. RecentFailures counts
// failures among each model's last window records.
func Aggregate(recs []models.LLMCallRecord, window int) []models.ModelPerformance {
	groups := make(map[string][]*models.LLMCallRecord)
	for i := range recs {
		groups[recs[i].ModelID] = append(groups[recs[i].ModelID], &recs[i])
	}

	out := make([]models.ModelPerformance, 0, len(groups))
	for id, group := range groups {
		var cost, latency float64
		successes := 0
		for _, rec := range group {
			cost += rec.Cost
			latency += float64(rec.DurationMs)
			if rec.Success {
				successes++
			}
		}
		n := float64(len(group))

		recent := group
		if window > 0 && len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		recentFailures := 0
		for _, rec := range recent {
			if !rec.Success {
				recentFailures++
			}
		}

		out = append(out, models.ModelPerformance{
			ModelID:        id,
			Tier:           group[len(group)-1].Tier,
			SuccessRate:    float64(successes) / n,
			AvgLatencyMs:   latency / n,
			AvgCost:        cost / n,
			SampleSize:     len(group),
			RecentFailures: recentFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}
