package models

import "time"

// TokenUsage represents token counts from an AI response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord is one ledger row: usage and cost for a single AI response.
type UsageRecord struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	Estimated        bool      `json:"estimated,omitempty"`
	Streaming        bool      `json:"streaming,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates ledger rows by provider and model.
type UsageSummary struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	RequestCount    int     `json:"request_count"`
	TotalPrompt     int     `json:"total_prompt"`
	TotalCompletion int     `json:"total_completion"`
	TotalTokens     int     `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// SessionTotals aggregates ledger rows for one session.
type SessionTotals struct {
	SessionID    string    `json:"session_id"`
	RequestCount int       `json:"request_count"`
	TotalTokens  int       `json:"total_tokens"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}
