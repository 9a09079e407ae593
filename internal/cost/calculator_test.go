package cost

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moritzWa/deeptable/internal/config"
)

func TestTokenPricing(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{"sonnet": {Input: 3.00, Output: 15.00}},
		Gemini:    map[string]config.ModelPricing{"flash": {Input: 0.30, Output: 2.50}},
	})

	tests := []struct {
		name   string
		fn     func(string, int64, int64) float64
		model  string
		input  int64
		output int64
		want   float64
	}{
		{name: "claude configured", fn: calc.Claude, model: "sonnet", input: 1_000_000, output: 100_000, want: 3.00 + 1.50},
		{name: "claude default model", fn: calc.Claude, model: "claude-sonnet-4-5-20250929", input: 1_000_000, output: 0, want: 3.00},
		{name: "claude unknown", fn: calc.Claude, model: "nope", input: 1_000_000, output: 1_000_000, want: 0},
		{name: "gemini configured", fn: calc.Gemini, model: "flash", input: 2_000_000, output: 1_000_000, want: 0.60 + 2.50},
		{name: "gemini zero tokens", fn: calc.Gemini, model: "flash", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.fn(tt.model, tt.input, tt.output), 0.0001)
		})
	}
}

func TestQueryPricing(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(config.PricingConfig{OpenAI: config.QueryPricing{PerQuery: 0.03}})
	assert.InDelta(t, 0.03, calc.OpenAIQuery(), 0.0001)
	// Zero falls back to the default.
	assert.InDelta(t, 0.005, calc.PerplexityQuery(), 0.0001)
}

func TestConfiguredModelOverridesDefault(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(config.PricingConfig{
		Gemini: map[string]config.ModelPricing{"gemini-2.5-flash": {Input: 1, Output: 1}},
	})
	assert.InDelta(t, 2.0, calc.Gemini("gemini-2.5-flash", 1_000_000, 1_000_000), 0.0001)
}

func TestLedger(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	ctx := WithLedger(context.Background(), l)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			FromContext(ctx).Add(Entry{Component: "provider", Name: "openai", USD: 0.01, InputTokens: 5})
		}()
	}
	wg.Wait()

	assert.Len(t, l.Entries(), 10)
	assert.InDelta(t, 0.10, l.Total(), 0.0001)
	l.Log()
}

func TestLedger_NilIsNoop(t *testing.T) {
	t.Parallel()
	var l *Ledger
	l.Add(Entry{USD: 1})
	assert.Nil(t, l.Entries())
	assert.Zero(t, l.Total())
	assert.Nil(t, FromContext(context.Background()))
	FromContext(context.Background()).Add(Entry{USD: 1})
}
