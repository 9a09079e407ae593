package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/internal/enrich"
	"github.com/moritzWa/deeptable/internal/provider"
	"github.com/moritzWa/deeptable/internal/resilience"
	"github.com/moritzWa/deeptable/internal/store"
	"github.com/moritzWa/deeptable/internal/synth"
	"github.com/moritzWa/deeptable/pkg/anthropic"
	"github.com/moritzWa/deeptable/pkg/gemini"
)

// appEnv holds the initialized dependencies shared by commands.
type appEnv struct {
	Store   store.Store
	Service *enrich.Service
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initStoreEnv opens the store only, for commands that never call providers.
func initStoreEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &appEnv{Store: st}, nil
}

// initEnrichEnv opens the store and builds the enrichment service.
func initEnrichEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	calc := cost.NewCalculator(cfg.Pricing)
	providers, err := provider.FromConfig(ctx, cfg, calc)
	if err != nil {
		env.Close()
		return nil, err
	}

	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	syn := synth.New(gen,
		synth.WithTimeout(time.Duration(cfg.Enrich.SynthesisTimeoutSecs)*time.Second),
		synth.WithRetryPolicy(resilience.PolicyFromConfig(cfg.Resilience)),
		synth.WithCalculator(calc),
	)

	env.Service = enrich.New(st, providers, syn,
		enrich.WithFanOutOptions(provider.FanOutOptions{
			Timeout:  time.Duration(cfg.Enrich.ProviderTimeoutSecs) * time.Second,
			Breakers: resilience.NewBreakers(resilience.BreakerFromConfig(cfg.Resilience)),
			Cache:    provider.NewAnswerCache(cfg.Enrich.CacheSize, time.Duration(cfg.Enrich.CacheTTLMins)*time.Minute),
		}),
		enrich.WithMaxConcurrentCells(cfg.Enrich.MaxConcurrentCells),
	)

	zap.L().Info("enrichment ready",
		zap.Strings("providers", cfg.Enrich.Providers),
		zap.String("synthesizer", gen.Name()),
		zap.String("store", cfg.Store.Driver),
	)
	return env, nil
}

func newGenerator(ctx context.Context, c *config.Config) (synth.Generator, error) {
	switch c.Enrich.Synthesizer {
	case config.SynthesizerAnthropic:
		client := anthropic.NewClient(c.Anthropic.Key)
		return synth.NewAnthropicGenerator(client, c.Anthropic.Model, c.Anthropic.MaxTokens), nil
	case config.SynthesizerGemini:
		client, err := gemini.NewClient(ctx, c.Gemini.Key, gemini.WithModel(c.Gemini.SynthesisModel))
		if err != nil {
			return nil, eris.Wrap(err, "gemini synthesis client")
		}
		return synth.NewGeminiGenerator(client, c.Gemini.SynthesisModel), nil
	default:
		return nil, eris.Errorf("unknown synthesizer: %s", c.Enrich.Synthesizer)
	}
}
