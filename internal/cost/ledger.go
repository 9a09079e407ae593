package cost

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Entry is the cost of one external call.
type Entry struct {
	Component    string // "provider" or "synthesis"
	Name         string // provider or generator name
	Model        string
	InputTokens  int64
	OutputTokens int64
	USD          float64
}

// Ledger accumulates entries for one cell fill. Safe for concurrent use; a nil
// Ledger discards everything.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Add records an entry.
func (l *Ledger) Add(e Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *Ledger) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Total sums every entry.
func (l *Ledger) Total() float64 {
	var total float64
	for _, e := range l.Entries() {
		total += e.USD
	}
	return total
}

// Log writes one cost attribution line with the given context fields.
func (l *Ledger) Log(fields ...zap.Field) {
	entries := l.Entries()
	var in, out int64
	for _, e := range entries {
		in += e.InputTokens
		out += e.OutputTokens
	}
	zap.L().Info("cost attribution", append(fields,
		zap.Int("calls", len(entries)),
		zap.Int64("input_tokens", in),
		zap.Int64("output_tokens", out),
		zap.Float64("estimated_cost_usd", l.Total()),
	)...)
}

type ledgerKey struct{}

// WithLedger attaches l to ctx.
func WithLedger(ctx context.Context, l *Ledger) context.Context {
	return context.WithValue(ctx, ledgerKey{}, l)
}

// FromContext returns the ledger attached to ctx, or nil.
func FromContext(ctx context.Context) *Ledger {
	l, _ := ctx.Value(ledgerKey{}).(*Ledger)
	return l
}
