package provider

import (
	"context"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/pkg/gemini"
)

// Gemini answers with Google Search grounding.
type Gemini struct {
	base
	client gemini.Client
	model  string
}

// NewGemini wraps client using model for every call.
func NewGemini(client gemini.Client, model string, opts ...Option) *Gemini {
	return &Gemini{base: newBase(config.ProviderGemini, opts), client: client, model: model}
}

func (p *Gemini) Ask(ctx context.Context, question string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	res, err := p.client.Search(ctx, gemini.SearchRequest{
		Model:  p.model,
		System: SystemPrompt,
		Prompt: question,
	})
	if err != nil {
		return "", p.fail("generate content", err)
	}
	if res.Text == "" {
		return "", p.fail("parse response", ErrEmptyResponse)
	}

	entry := cost.Entry{
		Component:    "provider",
		Name:         p.name,
		Model:        p.model,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
	}
	if p.calc != nil {
		entry.USD = p.calc.Gemini(p.model, res.Usage.InputTokens, res.Usage.OutputTokens)
	}
	cost.FromContext(ctx).Add(entry)

	return withSources(res.Text, res.Sources), nil
}
