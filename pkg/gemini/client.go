// Package gemini wraps the Google GenAI SDK for the two calls the pipeline
// makes: a search-grounded answer and a schema-constrained JSON generation.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// Client performs Gemini generations.
type Client interface {
	// Search answers prompt with Google Search grounding enabled.
	Search(ctx context.Context, req SearchRequest) (*Result, error)
	// GenerateJSON constrains the output to schema and returns the raw JSON.
	GenerateJSON(ctx context.Context, req JSONRequest) (*Result, error)
}

// SearchRequest is a grounded question.
type SearchRequest struct {
	Model  string
	System string
	Prompt string
}

// JSONRequest is a structured-output generation. Schema is a JSON Schema
// document.
type JSONRequest struct {
	Model  string
	System string
	Prompt string
	Schema map[string]any
}

// Result is the text of the first candidate plus any grounding URLs.
type Result struct {
	Text    string
	Sources []string
	Usage   Usage
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Option configures the client.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	http    *http.Client
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.http = hc }
}

type sdkClient struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	cfg := config{model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.http,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: client, model: cfg.model}, nil
}

func (c *sdkClient) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	gc := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelFor(req.Model), genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: search")
	}
	return fromResponse(resp), nil
}

func (c *sdkClient) GenerateJSON(ctx context.Context, req JSONRequest) (*Result, error) {
	gc := &genai.GenerateContentConfig{
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: req.Schema,
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelFor(req.Model), genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate json")
	}
	return fromResponse(resp), nil
}

func (c *sdkClient) modelFor(model string) string {
	if model != "" {
		return model
	}
	return c.model
}

func fromResponse(resp *genai.GenerateContentResponse) *Result {
	out := &Result{Text: strings.TrimSpace(resp.Text())}

	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		seen := make(map[string]bool)
		for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
				continue
			}
			seen[chunk.Web.URI] = true
			out.Sources = append(out.Sources, chunk.Web.URI)
		}
	}

	if um := resp.UsageMetadata; um != nil {
		out.Usage = Usage{
			InputTokens:  int64(um.PromptTokenCount),
			OutputTokens: int64(um.CandidatesTokenCount + um.ThoughtsTokenCount),
		}
	}
	return out
}

// StatusCode returns the HTTP status carried by a GenAI API error, or 0.
func StatusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
