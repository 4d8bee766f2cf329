package models

import "time"

// RunState is the terminal state of a controller run.
type RunState string

const (
	StateDone      RunState = "done"
	StateExhausted RunState = "exhausted"
)

// EscalationConfig bounds one controller run. It is not mutated during the run.
type EscalationConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	TierOrder          []Tier  `json:"tier_order" yaml:"tier_order"`
	MaxCost            float64 `json:"max_cost" yaml:"max_cost"`
	AutoApproveUnder   float64 `json:"auto_approve_under" yaml:"auto_approve_under"`
	MinAttemptsPerTier int     `json:"min_attempts_per_tier" yaml:"min_attempts_per_tier"`
	Concurrency        int     `json:"concurrency" yaml:"concurrency"`
}

// DefaultEscalationConfig returns the escalation settings used when none are supplied.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		Enabled:            true,
		TierOrder:          append([]Tier(nil), DefaultTierOrder...),
		MaxCost:            5.00,
		AutoApproveUnder:   1.00,
		MinAttemptsPerTier: 1,
		Concurrency:        4,
	}
}

// WorkflowStage records one tier attempt.
type WorkflowStage struct {
	Name         string  `json:"name"`
	Tier         Tier    `json:"tier"`
	Model        string  `json:"model"`
	Attempt      int     `json:"attempt"`
	Skipped      bool    `json:"skipped"`
	SkipReason   string  `json:"skip_reason,omitempty"`
	Cost         float64 `json:"cost"`
	DurationMs   int64   `json:"duration_ms"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	ItemsPassed  int     `json:"items_passed"`
	ItemsFailed  int     `json:"items_failed"`
	CacheHits    int     `json:"cache_hits"`
	Success      bool    `json:"success"`
}

// WorkItem is one unit of work pushed through the tier ladder.
type WorkItem struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// ItemOutput is the final output for one work item.
type ItemOutput struct {
	ItemID     string `json:"item_id"`
	Output     string `json:"output"`
	Passed     bool   `json:"passed"`
	Tier       Tier   `json:"tier"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// WorkflowResult is the structured outcome of a controller run.
type WorkflowResult struct {
	RunID           string          `json:"run_id"`
	Workflow        string          `json:"workflow"`
	Stages          []WorkflowStage `json:"stages"`
	Success         bool            `json:"success"`
	State           RunState        `json:"state"`
	FinalOutput     string          `json:"final_output"`
	Outputs         []ItemOutput    `json:"outputs"`
	CostReport      CostReport      `json:"cost_report"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
	Error           string          `json:"error,omitempty"`
	ExhaustedReason string          `json:"exhausted_reason,omitempty"`

	Recommendation *TierRecommendation `json:"recommendation,omitempty"`
}

// FinalTier returns the tier of the last attempted stage.
func (r *WorkflowResult) FinalTier() Tier {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if !r.Stages[i].Skipped {
			return r.Stages[i].Tier
		}
	}
	return ""
}
