package provider

import (
	"context"
	"strings"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/pkg/openai"
)

// OpenAI answers with the Responses API and its hosted web search tool.
type OpenAI struct {
	base
	client openai.Client
	model  string
}

// NewOpenAI wraps client. model is used for cost attribution only.
func NewOpenAI(client openai.Client, model string, opts ...Option) *OpenAI {
	return &OpenAI{base: newBase(config.ProviderOpenAI, opts), client: client, model: model}
}

func (p *OpenAI) Ask(ctx context.Context, question string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	resp, err := p.client.CreateResponse(ctx, openai.ResponseRequest{
		Instructions: SystemPrompt,
		Input:        question,
		Tools:        []openai.Tool{openai.WebSearchTool},
	})
	if err != nil {
		return "", p.fail("create response", err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", p.fail("parse response", ErrEmptyResponse)
	}

	entry := cost.Entry{
		Component:    "provider",
		Name:         p.name,
		Model:        p.model,
		InputTokens:  int64(resp.Usage.InputTokens),
		OutputTokens: int64(resp.Usage.OutputTokens),
	}
	if p.calc != nil {
		entry.USD = p.calc.OpenAIQuery()
	}
	cost.FromContext(ctx).Add(entry)

	return withSources(text, resp.Sources()), nil
}
