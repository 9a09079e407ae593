package provider

import (
	"context"
	"strings"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/pkg/perplexity"
)

// Perplexity answers with a sonar chat completion.
type Perplexity struct {
	base
	client perplexity.Client
	model  string
}

// NewPerplexity wraps client. An empty model uses the client default.
func NewPerplexity(client perplexity.Client, model string, opts ...Option) *Perplexity {
	return &Perplexity{base: newBase(config.ProviderPerplexity, opts), client: client, model: model}
}

func (p *Perplexity) Ask(ctx context.Context, question string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return "", p.fail("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", p.fail("parse response", ErrEmptyResponse)
	}

	text := strings.TrimSpace(resp.Content())
	if text == "" {
		return "", p.fail("parse response", ErrEmptyResponse)
	}

	entry := cost.Entry{
		Component:    "provider",
		Name:         p.name,
		Model:        resp.Model,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	if p.calc != nil {
		entry.USD = p.calc.PerplexityQuery()
	}
	cost.FromContext(ctx).Add(entry)

	return withSources(text, resp.Sources()), nil
}
