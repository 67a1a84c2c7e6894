package provider

import (
	"strings"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// OpenAI adapts OpenAI-style chat completion traffic, including compatible
// gateways that reuse the /v1/chat/completions shape.
type OpenAI struct{}

func (OpenAI) Name() string { return "openai" }

func (OpenAI) IsRequestFor(url string) bool {
	return strings.Contains(url, "api.openai.com") ||
		strings.Contains(url, "/v1/chat/completions") ||
		strings.Contains(url, "/v1/completions")
}

func (OpenAI) ExtractModel(body map[string]any) string {
	return stringField(body, "model")
}

func (OpenAI) ExtractMessages(body map[string]any) []any {
	msgs, _ := body["messages"].([]any)
	return msgs
}

func (OpenAI) ExtractTokenUsage(respBody map[string]any) *models.TokenUsage {
	usage, ok := respBody["usage"].(map[string]any)
	if !ok {
		return nil
	}
	prompt, okP := intField(usage, "prompt_tokens")
	completion, okC := intField(usage, "completion_tokens")
	if !okP && !okC {
		return nil
	}
	total, okT := intField(usage, "total_tokens")
	if !okT {
		total = prompt + completion
	}
	return &models.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

// EstimateTokens uses the ~4 characters per token heuristic that holds for
// GPT-family tokenizers on English text.
func (OpenAI) EstimateTokens(text, _ string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

var openaiPricingUpdated = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func (OpenAI) Pricing() map[string]models.ModelPricing {
	return map[string]models.ModelPricing{
		"gpt-4o":        {InputCostPer1K: 0.0025, OutputCostPer1K: 0.01, Currency: "USD", LastUpdated: openaiPricingUpdated},
		"gpt-4o-mini":   {InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Currency: "USD", LastUpdated: openaiPricingUpdated},
		"gpt-4-turbo":   {InputCostPer1K: 0.01, OutputCostPer1K: 0.03, Currency: "USD", LastUpdated: openaiPricingUpdated},
		"gpt-4":         {InputCostPer1K: 0.03, OutputCostPer1K: 0.06, Currency: "USD", LastUpdated: openaiPricingUpdated},
		"gpt-3.5-turbo": {InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015, Currency: "USD", LastUpdated: openaiPricingUpdated},
		"o1":            {InputCostPer1K: 0.015, OutputCostPer1K: 0.06, Currency: "USD", LastUpdated: openaiPricingUpdated},
		"o1-mini":       {InputCostPer1K: 0.0011, OutputCostPer1K: 0.0044, Currency: "USD", LastUpdated: openaiPricingUpdated},
	}
}
