package models

import "time"

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k"`
}

// Cost prices a usage against p.
func (p ModelPricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptCost +
		float64(u.CompletionTokens)/1000*p.CompletionCost
}

// UsageRecord is one journaled charge against the cost ledger.
type UsageRecord struct {
	ID               int64       `json:"id"`
	QueryID          string      `json:"query_id,omitempty"`
	Model            string      `json:"model"`
	CacheStatus      CacheStatus `json:"cache_status"`
	Failed           bool        `json:"failed,omitempty"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
	Cost             float64     `json:"cost"`
	CreatedAt        time.Time   `json:"created_at"`
}

// UsageSummary aggregates journaled usage for one model.
type UsageSummary struct {
	Model           string  `json:"model"`
	RequestCount    int     `json:"request_count"`
	CacheHits       int     `json:"cache_hits"`
	Failures        int     `json:"failures"`
	TotalPrompt     int64   `json:"total_prompt"`
	TotalCompletion int64   `json:"total_completion"`
	TotalTokens     int64   `json:"total_tokens"`
	TotalCost       float64 `json:"total_cost"`
}
