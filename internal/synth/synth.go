// Package synth merges the provider answers for one cell into a single typed
// value plus provenance, using one schema-constrained generation.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/resilience"
	"github.com/moritzWa/deeptable/internal/schema"
)

// DefaultTimeout bounds one synthesis, retries included.
const DefaultTimeout = 120 * time.Second

// ToolName names the structured output for generators that need one.
const ToolName = "record_cell_value"

// SystemInstruction frames the synthesis call.
const SystemInstruction = `You combine research answers from several web search assistants into one value for a spreadsheet cell.

Weigh each answer by the credibility of its sources, its consistency with the other answers, and how recent its information is. Ignore answers that report an error.

Respond with:
- result: the single best value, matching the requested type exactly.
- metadata.reasoningSteps: a short ordered list of the steps that led to the value.
- metadata.sources: every URL that appears in any of the answers.`

// ErrSynthesisParse is matched by every SynthesisError.
var ErrSynthesisParse = eris.New("synthesis response could not be parsed")

// SynthesisError reports model output that did not satisfy the envelope.
// Raw holds the unparsed model text.
type SynthesisError struct {
	Raw string
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: %s: %v", ErrSynthesisParse.Error(), e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesisParse }

// Input is everything the synthesizer sees for one cell.
type Input struct {
	TableName         string
	ColumnName        string
	ColumnDescription string
	ColumnType        model.ColumnType
	// Decimals rounds number results when set.
	Decimals *int
	Schema   schema.Schema
	Answers  []model.ProviderAnswer
}

// Result is the synthesized value and its provenance.
type Result struct {
	Value    model.Value
	Metadata model.Provenance
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithTimeout bounds each Synthesize call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

// WithRetryPolicy overrides the retry policy for transient generator errors.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(s *Synthesizer) { s.policy = p }
}

// WithCalculator prices each generation into the context's cost ledger.
func WithCalculator(c *cost.Calculator) Option {
	return func(s *Synthesizer) { s.calc = c }
}

// Synthesizer turns provider answers into a cell value.
type Synthesizer struct {
	gen     Generator
	timeout time.Duration
	policy  resilience.RetryPolicy
	calc    *cost.Calculator
}

// New returns a Synthesizer backed by gen.
func New(gen Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		gen:     gen,
		timeout: DefaultTimeout,
		policy:  resilience.DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize runs the generation, validates the envelope against the column
// type, and merges answer URLs into the sources.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Result, error) {
	env, err := Envelope(in.Schema)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := GenerateRequest{
		System:     SystemInstruction,
		Prompt:     BuildPrompt(in),
		SchemaName: ToolName,
		Schema:     env,
	}
	policy := s.policy
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("synth", s.gen.Name())
	}

	gen, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*Generation, error) {
		return s.gen.GenerateJSON(ctx, req)
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, eris.Wrapf(err, "synth: timed out after %s", s.timeout)
		}
		return nil, eris.Wrap(err, "synth: generate")
	}
	s.record(ctx, gen)

	res, err := parseEnvelope(gen.Text, in.ColumnType, in.Decimals)
	if err != nil {
		zap.L().Error("synthesis response rejected",
			zap.String("table", in.TableName),
			zap.String("column", in.ColumnName),
			zap.String("generator", s.gen.Name()),
			zap.String("raw", gen.Text),
			zap.Error(err),
		)
		return nil, err
	}
	res.Metadata.Sources = MergeSources(res.Metadata.Sources, in.Answers)
	return res, nil
}

func (s *Synthesizer) record(ctx context.Context, g *Generation) {
	entry := cost.Entry{
		Component:    "synthesis",
		Name:         s.gen.Name(),
		Model:        g.Model,
		InputTokens:  g.InputTokens,
		OutputTokens: g.OutputTokens,
	}
	if s.calc != nil {
		switch s.gen.Name() {
		case config.SynthesizerAnthropic:
			entry.USD = s.calc.Claude(g.Model, g.InputTokens, g.OutputTokens)
		case config.SynthesizerGemini:
			entry.USD = s.calc.Gemini(g.Model, g.InputTokens, g.OutputTokens)
		}
	}
	cost.FromContext(ctx).Add(entry)
}

// Envelope wraps the column schema's result property with the provenance
// metadata the synthesizer must return.
func Envelope(col schema.Schema) (schema.Schema, error) {
	result := col.Result()
	if result == nil {
		return nil, eris.New("synth: column schema has no result property")
	}
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	return schema.Schema{
		"type": "object",
		"properties": map[string]any{
			schema.ResultField: result,
			"metadata": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reasoningSteps": stringList,
					"sources":        stringList,
				},
				"required":             []string{"reasoningSteps", "sources"},
				"additionalProperties": false,
			},
		},
		"required":             []string{schema.ResultField, "metadata"},
		"additionalProperties": false,
	}, nil
}

// BuildPrompt lays out the cell context followed by each provider answer.
func BuildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", in.TableName)
	fmt.Fprintf(&b, "Column: %s (type %s)\n", in.ColumnName, in.ColumnType)
	if in.ColumnDescription != "" {
		fmt.Fprintf(&b, "Column description: %s\n", in.ColumnDescription)
	}
	b.WriteString("\nAnswers:\n")
	for _, a := range in.Answers {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", a.Provider, strings.TrimSpace(a.Response))
	}
	return b.String()
}

type envelope struct {
	Result   json.RawMessage   `json:"result"`
	Metadata *model.Provenance `json:"metadata"`
}

func parseEnvelope(raw string, columnType model.ColumnType, decimals *int) (*Result, error) {
	var env envelope
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &env); err != nil {
		return nil, &SynthesisError{Raw: raw, Err: eris.Wrap(err, "decode envelope")}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, &SynthesisError{Raw: raw, Err: eris.New("missing result")}
	}
	if env.Metadata == nil || env.Metadata.ReasoningSteps == nil || env.Metadata.Sources == nil {
		return nil, &SynthesisError{Raw: raw, Err: eris.New("missing metadata")}
	}

	val, err := decodeResult(env.Result, columnType, decimals)
	if err != nil {
		return nil, &SynthesisError{Raw: raw, Err: err}
	}
	return &Result{Value: val, Metadata: *env.Metadata}, nil
}

func decodeResult(raw json.RawMessage, columnType model.ColumnType, decimals *int) (model.Value, error) {
	switch columnType {
	case model.ColumnTypeText, model.ColumnTypeLink, model.ColumnTypeSelect:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.Value{}, eris.Errorf("%s result is not a string: %s", columnType, raw)
		}
		return model.SingleValue(strings.TrimSpace(s)), nil
	case model.ColumnTypeNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return model.Value{}, eris.Errorf("number result is not a number: %s", raw)
		}
		if decimals != nil {
			n = round(n, *decimals)
		}
		return model.NumberValue(n), nil
	case model.ColumnTypeMultiSelect:
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			return model.Value{}, eris.Errorf("multiSelect result is not a string array: %s", raw)
		}
		return model.MultiValue(items), nil
	default:
		return model.Value{}, eris.Errorf("unsupported column type %q", columnType)
	}
}

func round(n float64, decimals int) float64 {
	if decimals < 0 {
		return n
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(n*p) / p
}

// cleanJSON strips markdown fences and anything outside the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)

// MergeSources returns sources followed by every URL found in the successful
// answers that sources does not already list. Order is preserved and
// duplicates dropped. URLs that appear only in failed answers are request
// endpoints from error text, never citations, and are removed.
func MergeSources(sources []string, answers []model.ProviderAnswer) []string {
	cited := make(map[string]bool)
	endpoints := make(map[string]bool)
	for _, a := range answers {
		for _, u := range urlPattern.FindAllString(a.Response, -1) {
			if a.Failed {
				endpoints[cleanURL(u)] = true
			} else {
				cited[cleanURL(u)] = true
			}
		}
	}

	out := make([]string, 0, len(sources))
	seen := make(map[string]bool)
	add := func(u string) {
		u = cleanURL(u)
		if u == "" || seen[u] || (endpoints[u] && !cited[u]) {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, s := range sources {
		add(s)
	}
	for _, a := range answers {
		if a.Failed {
			continue
		}
		for _, u := range urlPattern.FindAllString(a.Response, -1) {
			add(u)
		}
	}
	return out
}

func cleanURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), ".,;:!?")
}
