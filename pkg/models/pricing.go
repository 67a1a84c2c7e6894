package models

import "time"

// ModelPricing holds per-1k-token costs for one (provider, model) pair.
type ModelPricing struct {
	InputCostPer1K  float64   `json:"input_cost_per_1k_tokens"`
	OutputCostPer1K float64   `json:"output_cost_per_1k_tokens"`
	Currency        string    `json:"currency"`
	LastUpdated     time.Time `json:"last_updated"`
}
