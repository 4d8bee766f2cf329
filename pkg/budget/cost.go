package budget

import (
	"github.com/pario-ai/ladder/pkg/models"
)

// Token counts assumed for an item whose usage has not been observed yet.
const (
	DefaultEstimateInputTokens  = 1000
	DefaultEstimateOutputTokens = 500
)

// CostModel prices tokens per tier.
type CostModel struct {
	pricing map[models.Tier]models.TierPricing
	order   []models.Tier
}

// NewCostModel creates a CostModel. The last tier in order is the baseline tier.
func NewCostModel(pricing map[models.Tier]models.TierPricing, order []models.Tier) *CostModel {
	if len(order) == 0 {
		order = models.DefaultTierOrder
	}
	return &CostModel{pricing: pricing, order: append([]models.Tier(nil), order...)}
}

// Pricing returns the pricing for t. Unknown tiers are free.
func (m *CostModel) Pricing(t models.Tier) models.TierPricing {
	return m.pricing[t]
}

// Cost prices one call at tier t.
func (m *CostModel) Cost(t models.Tier, inputTokens, outputTokens int) float64 {
	return m.pricing[t].Cost(inputTokens, outputTokens)
}

// TopTier returns the most capable tier in the order.
func (m *CostModel) TopTier() models.Tier {
	return m.order[len(m.order)-1]
}

// Usage is an observed or assumed token count for one item.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Estimate prices usages at tier t. Items with no observed tokens are priced
// at the default estimate.
func (m *CostModel) Estimate(t models.Tier, usages []Usage) float64 {
	var total float64
	for _, u := range usages {
		in, out := u.InputTokens, u.OutputTokens
		if in == 0 && out == 0 {
			in, out = DefaultEstimateInputTokens, DefaultEstimateOutputTokens
		}
		total += m.Cost(t, in, out)
	}
	return total
}

// Report compares the stages' actual cost with the cost of sending every
// token to the top tier.
func (m *CostModel) Report(stages []models.WorkflowStage) models.CostReport {
	report := models.CostReport{ByTier: make(map[models.Tier]float64)}
	top := m.Pricing(m.TopTier())

	for _, s := range stages {
		if s.Skipped {
			continue
		}
		report.TotalCost += s.Cost
		report.ByTier[s.Tier] += s.Cost
		report.BaselineCost += top.Cost(s.InputTokens, s.OutputTokens)
	}

	report.Savings = report.BaselineCost - report.TotalCost
	if report.BaselineCost > 0 {
		report.SavingsPercent = report.Savings / report.BaselineCost * 100
	}
	return report
}
