package provider

import (
	"strings"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// Anthropic adapts Anthropic /v1/messages traffic.
type Anthropic struct{}

func (Anthropic) Name() string { return "anthropic" }

func (Anthropic) IsRequestFor(url string) bool {
	return strings.Contains(url, "api.anthropic.com") ||
		strings.Contains(url, "/v1/messages")
}

func (Anthropic) ExtractModel(body map[string]any) string {
	return stringField(body, "model")
}

func (Anthropic) ExtractMessages(body map[string]any) []any {
	msgs, _ := body["messages"].([]any)
	return msgs
}

func (Anthropic) ExtractTokenUsage(respBody map[string]any) *models.TokenUsage {
	usage, ok := respBody["usage"].(map[string]any)
	if !ok {
		return nil
	}
	input, okI := intField(usage, "input_tokens")
	output, okO := intField(usage, "output_tokens")
	if !okI && !okO {
		return nil
	}
	return &models.TokenUsage{
		PromptTokens:     input,
		CompletionTokens: output,
		TotalTokens:      input + output,
	}
}

// EstimateTokens uses ~3.5 characters per token, the rate Claude tokenizers
// average on English text.
func (Anthropic) EstimateTokens(text, _ string) int {
	if text == "" {
		return 0
	}
	return int(float64(len(text))/3.5) + 1
}

var anthropicPricingUpdated = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func (Anthropic) Pricing() map[string]models.ModelPricing {
	return map[string]models.ModelPricing{
		"claude-3-5-sonnet-20241022": {InputCostPer1K: 0.003, OutputCostPer1K: 0.015, Currency: "USD", LastUpdated: anthropicPricingUpdated},
		"claude-3-5-haiku-20241022":  {InputCostPer1K: 0.0008, OutputCostPer1K: 0.004, Currency: "USD", LastUpdated: anthropicPricingUpdated},
		"claude-3-opus-20240229":     {InputCostPer1K: 0.015, OutputCostPer1K: 0.075, Currency: "USD", LastUpdated: anthropicPricingUpdated},
		"claude-sonnet-4-20250514":   {InputCostPer1K: 0.003, OutputCostPer1K: 0.015, Currency: "USD", LastUpdated: anthropicPricingUpdated},
		"claude-opus-4-20250514":     {InputCostPer1K: 0.015, OutputCostPer1K: 0.075, Currency: "USD", LastUpdated: anthropicPricingUpdated},
	}
}
