// Package provider asks web-connected LLM backends a cell question and fans
// one question out to all of them with per-provider failure isolation.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/moritzWa/deeptable/internal/cost"
)

// SystemPrompt is shared by every adapter.
const SystemPrompt = "You are a research assistant helping to fill in a cell of a spreadsheet. " +
	"You may search the web. Answer the question as precisely as you can and cite the URLs you used."

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = eris.New("empty response")

// Provider answers a free-text question.
type Provider interface {
	Name() string
	Ask(ctx context.Context, question string) (string, error)
}

// ProviderError is the only error type adapters return.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Option configures an adapter.
type Option func(*base)

// WithLimiter throttles the adapter's outbound calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(b *base) { b.limiter = l }
}

// WithCalculator prices each call into the request's cost ledger.
func WithCalculator(c *cost.Calculator) Option {
	return func(b *base) { b.calc = c }
}

// base carries what every adapter shares.
type base struct {
	name    string
	limiter *rate.Limiter
	calc    *cost.Calculator
}

func newBase(name string, opts []Option) base {
	b := base{name: name}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return b.fail("rate limit", err)
	}
	return nil
}

func (b *base) fail(op string, err error) error {
	return &ProviderError{Provider: b.name, Op: op, Err: err}
}

// withSources appends cited URLs the answer text does not already contain so
// that downstream URL extraction sees them.
func withSources(text string, sources []string) string {
	var missing []string
	for _, s := range sources {
		if !strings.Contains(text, s) {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nSources:")
	for _, s := range missing {
		sb.WriteString("\n- ")
		sb.WriteString(s)
	}
	return sb.String()
}
