package mcp

import (
	"context"
	"time"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/recommend"
	"github.com/pario-ai/ladder/pkg/router"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args arguments) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"ladder_recommend_tier":  handleRecommendTier,
	"ladder_best_model":      handleBestModel,
	"ladder_tier_upgrade":    handleTierUpgrade,
	"ladder_routing_stats":   handleRoutingStats,
	"ladder_telemetry_stats": handleTelemetryStats,
	"ladder_cache_stats":     handleCacheStats,
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

var tierProp = map[string]any{
	"type":        "string",
	"enum":        []string{"cheap", "capable", "premium"},
	"description": "Model tier (optional)",
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "ladder_recommend_tier",
		Description: "Recommend a starting model tier for a task from historical outcome patterns.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"description"},
			"properties": map[string]any{
				"description": stringProp("What needs to be done, e.g. the bug report"),
				"files_affected": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Paths or globs of the files involved (optional)",
				},
				"complexity": integerProp("Complexity hint from 1 to 10 (optional)"),
			},
		},
	},
	{
		Name:        "ladder_best_model",
		Description: "Pick the best performing model for a workflow stage from recent telemetry.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"workflow"},
			"properties": map[string]any{
				"workflow":         stringProp("Workflow name"),
				"stage":            stringProp("Stage name (optional, omit for all stages)"),
				"tier":             tierProp,
				"min_success_rate": numberProp("Minimum success rate between 0 and 1 (default 0.8)"),
				"max_cost":         numberProp("Maximum average cost per call in USD (optional)"),
				"max_latency_ms":   numberProp("Maximum average latency in milliseconds (optional)"),
				"lookback_days":    integerProp("Telemetry window in days (default 7)"),
			},
		},
	},
	{
		Name:        "ladder_tier_upgrade",
		Description: "Report whether the recent failure rate of a workflow stage justifies a higher tier.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"workflow"},
			"properties": map[string]any{
				"workflow":      stringProp("Workflow name"),
				"stage":         stringProp("Stage name (optional)"),
				"tier":          tierProp,
				"lookback_days": integerProp("Telemetry window in days (default 7)"),
			},
		},
	},
	{
		Name:        "ladder_routing_stats",
		Description: "Show per-model performance for a workflow over a telemetry window.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"workflow"},
			"properties": map[string]any{
				"workflow":      stringProp("Workflow name"),
				"stage":         stringProp("Stage name (optional, omit for all stages)"),
				"lookback_days": integerProp("Telemetry window in days (default 7)"),
			},
		},
	},
	{
		Name:        "ladder_telemetry_stats",
		Description: "Show call, cost, cache and savings totals from the telemetry log.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": stringProp("Start date in YYYY-MM-DD format (optional, defaults to all time)"),
			},
		},
	},
	{
		Name:        "ladder_cache_stats",
		Description: "Show hybrid cache statistics (entries, hash and semantic hits, evictions).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func handleRecommendTier(_ context.Context, s *Server, args arguments) ToolCallResult {
	if s.deps.Recommender == nil {
		return textResult("Tier recommender is not configured.")
	}
	desc, err := args.str("description", true)
	if err != nil {
		return errorResult(err.Error())
	}
	files, err := args.strings("files_affected")
	if err != nil {
		return errorResult(err.Error())
	}
	req := recommend.Request{Description: desc, FilesAffected: files}
	hint, ok, err := args.integer("complexity")
	if err != nil {
		return errorResult(err.Error())
	}
	if ok {
		req.ComplexityHint = &hint
	}

	rec, err := s.deps.Recommender.Recommend(req)
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(formatRecommendation(rec))
}

// routeArgs holds the arguments shared by the routing tools.
type routeArgs struct {
	workflow string
	stage    string
	opts     []router.SelectOption
	lookback time.Duration
}

func parseRouteArgs(args arguments) (routeArgs, error) {
	var ra routeArgs
	var err error
	if ra.workflow, err = args.str("workflow", true); err != nil {
		return ra, err
	}
	if ra.stage, err = args.str("stage", false); err != nil {
		return ra, err
	}
	tier, err := args.tier("tier")
	if err != nil {
		return ra, err
	}
	if tier != "" {
		ra.opts = append(ra.opts, router.WithTier(tier))
	}
	if ra.lookback, err = args.lookback(router.DefaultLookback); err != nil {
		return ra, err
	}
	ra.opts = append(ra.opts, router.WithLookback(ra.lookback))
	return ra, nil
}

func handleBestModel(ctx context.Context, s *Server, args arguments) ToolCallResult {
	if s.deps.Router == nil {
		return textResult("Router is not configured.")
	}
	ra, err := parseRouteArgs(args)
	if err != nil {
		return errorResult(err.Error())
	}

	if v, ok, err := args.number("min_success_rate"); err != nil {
		return errorResult(err.Error())
	} else if ok {
		if v < 0 || v > 1 {
			return errorResult(apperr.Validation("min_success_rate must be between 0 and 1").Error())
		}
		ra.opts = append(ra.opts, router.WithMinSuccessRate(v))
	}
	if v, ok, err := args.number("max_cost"); err != nil {
		return errorResult(err.Error())
	} else if ok {
		ra.opts = append(ra.opts, router.WithMaxCost(v))
	}
	if v, ok, err := args.number("max_latency_ms"); err != nil {
		return errorResult(err.Error())
	} else if ok {
		ra.opts = append(ra.opts, router.WithMaxLatency(v))
	}

	sel := s.deps.Router.BestModel(ctx, ra.workflow, ra.stage, ra.opts...)
	return textResult(formatSelection(sel))
}

func handleTierUpgrade(ctx context.Context, s *Server, args arguments) ToolCallResult {
	if s.deps.Router == nil {
		return textResult("Router is not configured.")
	}
	ra, err := parseRouteArgs(args)
	if err != nil {
		return errorResult(err.Error())
	}
	advice := s.deps.Router.RecommendTierUpgrade(ctx, ra.workflow, ra.stage, ra.opts...)
	return textResult(formatUpgrade(advice))
}

func handleRoutingStats(ctx context.Context, s *Server, args arguments) ToolCallResult {
	if s.deps.Router == nil {
		return textResult("Router is not configured.")
	}
	ra, err := parseRouteArgs(args)
	if err != nil {
		return errorResult(err.Error())
	}
	stats, err := s.deps.Router.RoutingStats(ctx, ra.workflow, ra.stage, ra.lookback)
	if err != nil {
		return errorResult("Error fetching routing stats: " + err.Error())
	}
	return textResult(formatRoutingStats(stats))
}

func handleTelemetryStats(ctx context.Context, s *Server, args arguments) ToolCallResult {
	if s.deps.Telemetry == nil {
		return textResult("Telemetry is not configured.")
	}
	sinceArg, err := args.str("since", false)
	if err != nil {
		return errorResult(err.Error())
	}
	var since time.Time
	if sinceArg != "" {
		since, err = time.Parse("2006-01-02", sinceArg)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
	}

	stats, err := s.deps.Telemetry.Stats(ctx, since)
	if err != nil {
		return errorResult("Error fetching telemetry stats: " + err.Error())
	}
	return textResult(formatTelemetryStats(stats))
}

func handleCacheStats(_ context.Context, s *Server, _ arguments) ToolCallResult {
	if s.deps.Cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.deps.Cache.Stats()))
}
