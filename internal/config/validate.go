package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Known provider and synthesizer names.
const (
	ProviderOpenAI     = "openai"
	ProviderPerplexity = "perplexity"
	ProviderGemini     = "gemini"

	SynthesizerGemini    = "gemini"
	SynthesizerAnthropic = "anthropic"
)

// Validate checks that the settings a command mode depends on are present.
// Modes: "store" (table import/export, migrate), "enrich", "serve".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch mode {
	case "store":
		c.validateStore(add)
	case "enrich":
		c.validateStore(add)
		c.validateEnrich(add)
	case "serve":
		c.validateStore(add)
		c.validateEnrich(add)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string)) {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		add("store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
}

func (c *Config) validateEnrich(add func(string)) {
	if len(c.Enrich.Providers) == 0 {
		add("enrich.providers must list at least one provider")
	}
	seen := make(map[string]bool)
	for _, p := range c.Enrich.Providers {
		if seen[p] {
			add("enrich.providers lists " + p + " twice")
			continue
		}
		seen[p] = true
		switch p {
		case ProviderOpenAI:
			if c.OpenAI.Key == "" {
				add("openai.key is required")
			}
		case ProviderPerplexity:
			if c.Perplexity.Key == "" {
				add("perplexity.key is required")
			}
		case ProviderGemini:
			if c.Gemini.Key == "" {
				add("gemini.key is required")
			}
		default:
			add("enrich.providers has unknown provider " + p)
		}
	}

	switch c.Enrich.Synthesizer {
	case SynthesizerGemini:
		if c.Gemini.Key == "" && !seen[ProviderGemini] {
			add("gemini.key is required")
		}
	case SynthesizerAnthropic:
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
	default:
		add("enrich.synthesizer must be gemini or anthropic")
	}

	if c.Enrich.ProviderTimeoutSecs <= 0 {
		add("enrich.provider_timeout_secs must be > 0")
	}
	if c.Enrich.SynthesisTimeoutSecs <= 0 {
		add("enrich.synthesis_timeout_secs must be > 0")
	}
	if c.Enrich.MaxConcurrentCells < 1 || c.Enrich.MaxConcurrentCells > 64 {
		add("enrich.max_concurrent_cells must be between 1 and 64")
	}
}
