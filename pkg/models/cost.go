package models

// TierPricing defines per-million token costs for a tier.
type TierPricing struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million"`
}

// Cost returns the USD cost of a call with the given token counts.
func (p TierPricing) Cost(inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return float64(inputTokens)*p.InputPerMillion/1e6 + float64(outputTokens)*p.OutputPerMillion/1e6
}

// CostReport compares the actual cost of a run against running everything at the top tier.
type CostReport struct {
	TotalCost      float64          `json:"total_cost"`
	BaselineCost   float64          `json:"baseline_cost"`
	Savings        float64          `json:"savings"`
	SavingsPercent float64          `json:"savings_percent"`
	ByTier         map[Tier]float64 `json:"by_tier"`
}
