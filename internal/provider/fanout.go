package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/resilience"
)

// DefaultTimeout bounds a single provider call when FanOutOptions.Timeout is
// unset.
const DefaultTimeout = 90 * time.Second

// FanOutOptions tunes FanOut. The zero value is usable.
type FanOutOptions struct {
	// Timeout bounds each provider call independently.
	Timeout time.Duration
	// Breakers, when set, short-circuits providers that keep failing.
	Breakers *resilience.Breakers
	// Cache, when set, serves repeated questions without a call.
	Cache *AnswerCache
}

// ErrorAnswer is the response text substituted for a failed provider.
func ErrorAnswer(provider string, err error) string {
	return fmt.Sprintf("Error with %s search: %s", provider, errorMessage(err))
}

func errorMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Op + ": " + pe.Err.Error()
	}
	return err.Error()
}

// FanOut asks every provider the same question at once and waits for all of
// them. The result has exactly one entry per provider, in the given order;
// a failed, timed-out, panicking or circuit-broken provider contributes an
// ErrorAnswer instead of aborting the others.
func FanOut(ctx context.Context, question string, providers []Provider, opts FanOutOptions) []model.ProviderAnswer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	answers := make([]model.ProviderAnswer, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			name := p.Name()
			start := time.Now()

			resp, err := ask(ctx, p, question, timeout, opts)
			if err != nil {
				zap.L().Warn("provider: ask failed",
					zap.String("provider", name),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				answers[i] = model.ProviderAnswer{Provider: name, Response: ErrorAnswer(name, err), Failed: true}
				return nil
			}

			zap.L().Debug("provider: answered",
				zap.String("provider", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Int("chars", len(resp)),
			)
			answers[i] = model.ProviderAnswer{Provider: name, Response: resp}
			return nil
		})
	}
	_ = g.Wait()

	return answers
}

func ask(ctx context.Context, p Provider, question string, timeout time.Duration, opts FanOutOptions) (resp string, err error) {
	name := p.Name()

	if cached, ok := opts.Cache.Get(name, question); ok {
		return cached, nil
	}

	var breaker *resilience.Breaker
	if opts.Breakers != nil {
		breaker = opts.Breakers.Get(name)
		if err := breaker.Allow(); err != nil {
			return "", err
		}
		defer func() {
			// A call the caller abandoned says nothing about the provider.
			if ctx.Err() != nil {
				breaker.Release()
				return
			}
			breaker.Record(err)
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err = p.Ask(callCtx, question)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", eris.Errorf("timed out after %s", timeout)
		}
		return "", err
	}

	opts.Cache.Put(name, question, resp)
	return resp, nil
}
