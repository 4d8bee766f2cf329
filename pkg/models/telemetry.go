package models

import "time"

// Telemetry record envelope.
const (
	TelemetrySchemaVersion = 1

	KindLLMCall     = "llm_call"
	KindWorkflowRun = "workflow_run"
)

// LLMCallRecord is one served call: an external generate call or a cache hit standing in for one.
// Records are append-only and identified by CallID.
type LLMCallRecord struct {
	Version      int       `json:"v"`
	Kind         string    `json:"kind"`
	CallID       string    `json:"call_id"`
	Timestamp    time.Time `json:"timestamp"`
	Workflow     string    `json:"workflow"`
	Stage        string    `json:"stage"`
	Tier         Tier      `json:"tier"`
	ModelID      string    `json:"model_id"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	DurationMs   int64     `json:"duration_ms"`
	CacheHit     bool      `json:"cache_hit"`
	CacheType    CacheType `json:"cache_type"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message"`
}

// WorkflowRunRecord summarizes one controller run.
type WorkflowRunRecord struct {
	Version        int       `json:"v"`
	Kind           string    `json:"kind"`
	RunID          string    `json:"run_id"`
	Workflow       string    `json:"workflow"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Success        bool      `json:"success"`
	State          RunState  `json:"state"`
	TotalCost      float64   `json:"total_cost"`
	BaselineCost   float64   `json:"baseline_cost"`
	Savings        float64   `json:"savings"`
	SavingsPercent float64   `json:"savings_percent"`
	StageCount     int       `json:"stage_count"`
	FinalTier      Tier      `json:"final_tier"`
	Error          string    `json:"error,omitempty"`
}

// TierUsage aggregates calls for one tier.
type TierUsage struct {
	Calls        int     `json:"calls"`
	Cost         float64 `json:"cost"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Successes    int     `json:"successes"`
}

// TelemetryStats aggregates calls and runs in a window.
type TelemetryStats struct {
	TotalCalls     int                  `json:"total_calls"`
	TotalCost      float64              `json:"total_cost"`
	InputTokens    int64                `json:"input_tokens"`
	OutputTokens   int64                `json:"output_tokens"`
	CacheHits      int                  `json:"cache_hits"`
	CacheHitRate   float64              `json:"cache_hit_rate"`
	SuccessRate    float64              `json:"success_rate"`
	ByTier         map[Tier]TierUsage   `json:"by_tier"`
	ByModel        map[string]TierUsage `json:"by_model"`
	ByWorkflow     map[string]TierUsage `json:"by_workflow"`
	TotalRuns      int                  `json:"total_runs"`
	SuccessfulRuns int                  `json:"successful_runs"`
	TotalSavings   float64              `json:"total_savings"`
	BaselineCost   float64              `json:"baseline_cost"`
	SkippedLines   int                  `json:"skipped_lines"`
}
