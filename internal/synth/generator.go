package synth

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/moritzWa/deeptable/internal/config"
	"github.com/moritzWa/deeptable/internal/resilience"
	"github.com/moritzWa/deeptable/internal/schema"
	"github.com/moritzWa/deeptable/pkg/anthropic"
	"github.com/moritzWa/deeptable/pkg/gemini"
)

// GenerateRequest is one schema-constrained generation.
type GenerateRequest struct {
	System     string
	Prompt     string
	SchemaName string
	Schema     schema.Schema
}

// Generation is the raw JSON text a generator produced plus its token usage.
type Generation struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Generator produces JSON constrained to a schema.
type Generator interface {
	Name() string
	GenerateJSON(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// GeminiGenerator uses Gemini structured output.
type GeminiGenerator struct {
	client gemini.Client
	model  string
}

// NewGeminiGenerator returns a generator calling model through client.
func NewGeminiGenerator(client gemini.Client, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) Name() string { return config.SynthesizerGemini }

func (g *GeminiGenerator) GenerateJSON(ctx context.Context, req GenerateRequest) (*Generation, error) {
	res, err := g.client.GenerateJSON(ctx, gemini.JSONRequest{
		Model:  g.model,
		System: req.System,
		Prompt: req.Prompt,
		Schema: req.Schema,
	})
	if err != nil {
		return nil, classify(eris.Wrap(err, "synth: gemini generate"), gemini.StatusCode(err))
	}
	return &Generation{
		Text:         res.Text,
		Model:        g.model,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
	}, nil
}

// AnthropicGenerator forces a single tool call whose input schema is the
// requested schema, and returns the tool input as the JSON text.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator returns a generator calling model through client.
func NewAnthropicGenerator(client anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicGenerator{client: client, model: model, maxTokens: maxTokens}
}

func (g *AnthropicGenerator) Name() string { return config.SynthesizerAnthropic }

func (g *AnthropicGenerator) GenerateJSON(ctx context.Context, req GenerateRequest) (*Generation, error) {
	props, _ := req.Schema["properties"].(map[string]any)
	required, _ := req.Schema["required"].([]string)
	tool := anthropic.Tool{
		Name:        req.SchemaName,
		Description: "Record the synthesized cell value together with its reasoning and sources.",
		Properties:  props,
		Required:    required,
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    []anthropic.SystemBlock{{Text: req.System}},
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Tools:     []anthropic.Tool{tool},
		ForceTool: tool.Name,
	})
	if err != nil {
		return nil, classify(eris.Wrap(err, "synth: anthropic generate"), anthropic.StatusCode(err))
	}

	input, ok := resp.ToolInput(tool.Name)
	if !ok {
		return nil, eris.Errorf("synth: anthropic response has no %s tool call (stop reason %q)", tool.Name, resp.StopReason)
	}
	return &Generation{
		Text:         string(input),
		Model:        g.model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// classify marks retryable HTTP failures as transient.
func classify(err error, status int) error {
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return err
}
