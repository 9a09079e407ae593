// Package cost estimates the USD spend of a cell fill across provider
// queries and the synthesis call.
package cost

import (
	"github.com/moritzWa/deeptable/internal/config"
)

// Calculator computes costs for API usage.
type Calculator struct {
	pricing config.PricingConfig
}

// NewCalculator creates a Calculator. Configured model rates override the
// built-in defaults; zero per-query prices fall back to the defaults.
func NewCalculator(pricing config.PricingConfig) *Calculator {
	d := DefaultPricing()
	merged := config.PricingConfig{
		Anthropic:  mergeModels(d.Anthropic, pricing.Anthropic),
		Gemini:     mergeModels(d.Gemini, pricing.Gemini),
		OpenAI:     pricing.OpenAI,
		Perplexity: pricing.Perplexity,
	}
	if merged.OpenAI.PerQuery == 0 {
		merged.OpenAI = d.OpenAI
	}
	if merged.Perplexity.PerQuery == 0 {
		merged.Perplexity = d.Perplexity
	}
	return &Calculator{pricing: merged}
}

func mergeModels(base, override map[string]config.ModelPricing) map[string]config.ModelPricing {
	out := make(map[string]config.ModelPricing, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Claude computes the cost of an Anthropic call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	return tokens(c.pricing.Anthropic, model, input, output)
}

// Gemini computes the cost of a Gemini call. Unknown models cost 0.
func (c *Calculator) Gemini(model string, input, output int64) float64 {
	return tokens(c.pricing.Gemini, model, input, output)
}

// OpenAIQuery returns the flat cost per web-search response.
func (c *Calculator) OpenAIQuery() float64 {
	return c.pricing.OpenAI.PerQuery
}

// PerplexityQuery returns the flat cost per Perplexity query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.pricing.Perplexity.PerQuery
}

func tokens(rates map[string]config.ModelPricing, model string, input, output int64) float64 {
	rate, ok := rates[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultPricing returns list prices (USD per million tokens, or per query).
func DefaultPricing() config.PricingConfig {
	return config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Gemini: map[string]config.ModelPricing{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
		OpenAI:     config.QueryPricing{PerQuery: 0.01},
		Perplexity: config.QueryPricing{PerQuery: 0.005},
	}
}
