package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/pkg/gemini"
	"github.com/moritzWa/deeptable/pkg/openai"
	"github.com/moritzWa/deeptable/pkg/perplexity"
)

// FromConfig builds the adapters named in cfg.Enrich.Providers, in order. Each
// adapter gets its own rate limiter.
func FromConfig(ctx context.Context, cfg *config.Config, calc *cost.Calculator) ([]Provider, error) {
	out := make([]Provider, 0, len(cfg.Enrich.Providers))
	for _, name := range cfg.Enrich.Providers {
		opts := []Option{
			WithLimiter(newLimiter(cfg.Resilience)),
			WithCalculator(calc),
		}

		switch name {
		case config.ProviderOpenAI:
			client := openai.NewClient(cfg.OpenAI.Key,
				openai.WithBaseURL(cfg.OpenAI.BaseURL),
				openai.WithModel(cfg.OpenAI.Model),
			)
			out = append(out, NewOpenAI(client, cfg.OpenAI.Model, opts...))
		case config.ProviderPerplexity:
			client := perplexity.NewClient(cfg.Perplexity.Key,
				perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
				perplexity.WithModel(cfg.Perplexity.Model),
			)
			out = append(out, NewPerplexity(client, cfg.Perplexity.Model, opts...))
		case config.ProviderGemini:
			client, err := gemini.NewClient(ctx, cfg.Gemini.Key, gemini.WithModel(cfg.Gemini.Model))
			if err != nil {
				return nil, eris.Wrap(err, "provider: gemini client")
			}
			out = append(out, NewGemini(client, cfg.Gemini.Model, opts...))
		default:
			return nil, eris.Errorf("provider: unknown provider %q", name)
		}
	}
	return out, nil
}

func newLimiter(cfg config.ResilienceConfig) *rate.Limiter {
	if cfg.ProviderRPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.ProviderBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ProviderRPS), burst)
}
