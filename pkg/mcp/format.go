package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/router"
)

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatRecommendation formats a tier recommendation as text.
func formatRecommendation(rec models.TierRecommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommended tier: %s\n", rec.Tier)
	fmt.Fprintf(&b, "  Confidence:        %.0f%%\n", rec.Confidence*100)
	fmt.Fprintf(&b, "  Expected cost:     $%.4f\n", rec.ExpectedCost)
	fmt.Fprintf(&b, "  Expected attempts: %.1f\n", rec.ExpectedAttempts)
	fmt.Fprintf(&b, "  Bug type:          %s\n", rec.BugType)
	fmt.Fprintf(&b, "  Similar patterns:  %d\n", rec.SimilarPatternCount)
	fmt.Fprintf(&b, "  Fallback used:     %s\n", yesNo(rec.FallbackUsed))
	fmt.Fprintf(&b, "  Reasoning:         %s\n", rec.Reasoning)
	return b.String()
}

// formatSelection formats a router selection as text.
func formatSelection(sel router.Selection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Best model: %s (tier %s)\n", sel.Model, sel.Tier)
	fmt.Fprintf(&b, "  Fallback used: %s\n", yesNo(sel.FallbackUsed))
	fmt.Fprintf(&b, "  Reason:        %s\n", sel.Reason)
	if p := sel.Performance; p != nil {
		fmt.Fprintf(&b, "  Success rate:  %.1f%%\n", p.SuccessRate*100)
		fmt.Fprintf(&b, "  Avg cost:      $%.4f\n", p.AvgCost)
		fmt.Fprintf(&b, "  Avg latency:   %.0fms\n", p.AvgLatencyMs)
		fmt.Fprintf(&b, "  Samples:       %d\n", p.SampleSize)
	}
	return b.String()
}

// formatUpgrade formats tier upgrade advice as text.
func formatUpgrade(a router.UpgradeAdvice) string {
	return fmt.Sprintf("Upgrade recommended: %s\n"+
		"  Reason:       %s\n"+
		"  Failure rate: %.1f%%\n"+
		"  Samples:      %d\n",
		yesNo(a.Upgrade), a.Reason, a.FailureRate*100, a.SampleSize)
}

// formatRoutingStats formats per-model performance as a text table.
func formatRoutingStats(stats router.RoutingStats) string {
	if stats.TotalCalls == 0 {
		return "No calls found for this workflow."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Calls: %d  Avg cost: $%.4f  Avg success: %.1f%%\n\n",
		stats.TotalCalls, stats.AvgCost, stats.AvgSuccessRate*100)
	fmt.Fprintf(&b, "%-30s %-8s %8s %9s %10s %10s\n",
		"Model", "Tier", "Samples", "Success", "Avg Cost", "Latency")
	b.WriteString(strings.Repeat("-", 80) + "\n")

	ids := make([]string, 0, len(stats.PerformanceByModel))
	for id := range stats.PerformanceByModel {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := stats.PerformanceByModel[id]
		fmt.Fprintf(&b, "%-30s %-8s %8d %8.1f%% %10.4f %8.0fms\n",
			p.ModelID, p.Tier, p.SampleSize, p.SuccessRate*100, p.AvgCost, p.AvgLatencyMs)
	}
	return b.String()
}

// formatTelemetryStats formats telemetry totals and the per-tier breakdown.
func formatTelemetryStats(s models.TelemetryStats) string {
	if s.TotalCalls == 0 && s.TotalRuns == 0 {
		return "No telemetry recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Telemetry\n"+
		"  Calls:          %d\n"+
		"  Cost:           $%.4f\n"+
		"  Tokens:         %d in / %d out\n"+
		"  Cache hit rate: %.1f%%\n"+
		"  Success rate:   %.1f%%\n"+
		"  Runs:           %d (%d successful)\n"+
		"  Baseline cost:  $%.4f\n"+
		"  Savings:        $%.4f\n",
		s.TotalCalls, s.TotalCost, s.InputTokens, s.OutputTokens,
		s.CacheHitRate*100, s.SuccessRate*100,
		s.TotalRuns, s.SuccessfulRuns, s.BaselineCost, s.TotalSavings)
	if s.SkippedLines > 0 {
		fmt.Fprintf(&b, "  Skipped lines:  %d\n", s.SkippedLines)
	}

	if len(s.ByTier) > 0 {
		fmt.Fprintf(&b, "\n%-8s %8s %12s %10s\n", "Tier", "Calls", "Cost", "Success")
		for _, t := range models.AllTiers() {
			u, ok := s.ByTier[t]
			if !ok {
				continue
			}
			rate := float64(0)
			if u.Calls > 0 {
				rate = float64(u.Successes) / float64(u.Calls) * 100
			}
			fmt.Fprintf(&b, "%-8s %8d %12.4f %9.1f%%\n", t, u.Calls, u.Cost, rate)
		}
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:       %d\n"+
		"  Memory:        %d bytes\n"+
		"  Hits:          %d (hash %d, semantic %d)\n"+
		"  Misses:        %d\n"+
		"  Evictions:     %d\n"+
		"  Hit Rate:      %.1f%%\n",
		stats.Entries, stats.MemoryBytes, stats.Hits, stats.HashHits, stats.SemanticHits,
		stats.Misses, stats.Evictions, stats.HitRate()*100)
}
