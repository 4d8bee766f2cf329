package models

// ModelPerformance is derived per router query from a telemetry window. Never persisted.
type ModelPerformance struct {
	ModelID        string  `json:"model_id"`
	Tier           Tier    `json:"tier"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	AvgCost        float64 `json:"avg_cost"`
	SampleSize     int     `json:"sample_size"`
	RecentFailures int     `json:"recent_failures"`
}

// QualityScore trades success against cost: successRate*100 - avgCost*10.
func (p ModelPerformance) QualityScore() float64 {
	return p.SuccessRate*100 - p.AvgCost*10
}

// TierRecommendation is the immutable result of a tier recommendation.
type TierRecommendation struct {
	Tier                Tier    `json:"tier"`
	Confidence          float64 `json:"confidence"`
	Reasoning           string  `json:"reasoning"`
	ExpectedCost        float64 `json:"expected_cost"`
	ExpectedAttempts    float64 `json:"expected_attempts"`
	SimilarPatternCount int     `json:"similar_pattern_count"`
	FallbackUsed        bool    `json:"fallback_used"`
	BugType             string  `json:"bug_type"`
}

// Pattern is a historical outcome record from the pattern corpus.
type Pattern struct {
	ID            string   `json:"id" yaml:"id"`
	BugType       string   `json:"bug_type" yaml:"bug_type"`
	FilesAffected []string `json:"files_affected" yaml:"files_affected"`
	Tier          Tier     `json:"tier" yaml:"tier"`
	StartingTier  Tier     `json:"starting_tier" yaml:"starting_tier"`
	Attempts      int      `json:"attempts" yaml:"attempts"`
	Cost          float64  `json:"cost" yaml:"cost"`
	Success       bool     `json:"success" yaml:"success"`
	Source        string   `json:"source,omitempty" yaml:"-"`
}
