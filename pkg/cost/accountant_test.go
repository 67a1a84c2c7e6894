package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

func TestCostExactModel(t *testing.T) {
	a := New()

	c := a.Cost("openai", "gpt-4o", models.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000})
	require.NotNil(t, c)
	assert.InDelta(t, 0.0125, *c, 1e-9)
}

func TestCostFuzzyFallbackStripsDateSuffix(t *testing.T) {
	a := New()

	// A snapshot newer than the pricing table still matches its model family.
	c := a.Cost("anthropic", "claude-3-5-sonnet-20250101", models.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000})
	require.NotNil(t, c)
	assert.InDelta(t, 0.018, *c, 1e-9)
}

func TestCostUnknownModel(t *testing.T) {
	a := New()
	assert.Nil(t, a.Cost("openai", "mystery-model", models.TokenUsage{PromptTokens: 1000}))
}

func TestCostUnknownProvider(t *testing.T) {
	a := New()
	assert.Nil(t, a.Cost("nobody", "gpt-4o", models.TokenUsage{PromptTokens: 1000}))
}

func TestCostRoundsToFiveDecimals(t *testing.T) {
	a := New()

	c := a.Cost("openai", "gpt-3.5-turbo", models.TokenUsage{PromptTokens: 1, CompletionTokens: 1})
	require.NotNil(t, c)
	assert.Zero(t, *c)
}

func TestSetPricingOverride(t *testing.T) {
	a := New()

	a.SetPricing("local", "llama-3-70b", models.ModelPricing{
		InputCostPer1K:  0.001,
		OutputCostPer1K: 0.002,
		Currency:        "USD",
		LastUpdated:     time.Now(),
	})

	c := a.Cost("local", "llama-3-70b", models.TokenUsage{PromptTokens: 2000, CompletionTokens: 500})
	require.NotNil(t, c)
	assert.InDelta(t, 0.003, *c, 1e-9)
	assert.False(t, a.IsPricingStale("local", "llama-3-70b", 30))
}

func TestEstimateUsage(t *testing.T) {
	a := New()

	// 35 chars at 3.5 chars/token for Claude models.
	u := a.EstimateUsage("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "", "claude-3-5-haiku")
	assert.Equal(t, 10, u.PromptTokens)
	assert.Equal(t, 0, u.CompletionTokens)
	assert.Equal(t, 10, u.TotalTokens)

	// 40 chars at 4 chars/token for everything else.
	u = a.EstimateUsage("", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "gpt-4o")
	assert.Equal(t, 10, u.CompletionTokens)
	assert.Equal(t, 10, u.TotalTokens)
}

func TestExtractExactUsageByProvider(t *testing.T) {
	a := New()

	u := a.ExtractExactUsage(map[string]any{
		"usage": map[string]any{"prompt_tokens": float64(12), "completion_tokens": float64(8)},
	}, "openai")
	require.NotNil(t, u)
	assert.Equal(t, 12, u.PromptTokens)
	assert.Equal(t, 20, u.TotalTokens)
}

func TestExtractExactUsageUnknownProviderTriesAllShapes(t *testing.T) {
	a := New()

	u := a.ExtractExactUsage(map[string]any{
		"usageMetadata": map[string]any{"promptTokenCount": float64(7), "candidatesTokenCount": float64(3)},
	}, "somegateway")
	require.NotNil(t, u)
	assert.Equal(t, 7, u.PromptTokens)
	assert.Equal(t, 3, u.CompletionTokens)
}

func TestExtractExactUsageMissing(t *testing.T) {
	a := New()
	assert.Nil(t, a.ExtractExactUsage(map[string]any{"id": "resp_1"}, "openai"))
}

func TestIsPricingStale(t *testing.T) {
	a := New()

	assert.True(t, a.IsPricingStale("openai", "gpt-4o", 0))
	assert.False(t, a.IsPricingStale("openai", "gpt-4o", 36500))
	assert.True(t, a.IsPricingStale("openai", "no-such-model", 36500))
}

func TestNormalizeModel(t *testing.T) {
	cases := map[string]string{
		"claude-3-5-sonnet-20241022": "claude35sonnet",
		"Claude-Sonnet-4-20250514":   "claudesonnet4",
		"gpt-4o":                     "gpt4o",
		"gemini-1.5-pro":             "gemini15pro",
		"model_2024-11-20":           "model",
		"  spaced  ":                 "spaced",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeModel(in), in)
	}
}
