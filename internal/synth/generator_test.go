package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/resilience"
	"github.com/moritzWa/deeptable/internal/schema"
	"github.com/moritzWa/deeptable/pkg/anthropic"
	"github.com/moritzWa/deeptable/pkg/gemini"
)

type mockGemini struct {
	mock.Mock
}

func (m *mockGemini) Search(ctx context.Context, req gemini.SearchRequest) (*gemini.Result, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*gemini.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGemini) GenerateJSON(ctx context.Context, req gemini.JSONRequest) (*gemini.Result, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*gemini.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func envelopeFor(t *testing.T, ct model.ColumnType) schema.Schema {
	t.Helper()
	col, err := schema.Build(ct, nil)
	require.NoError(t, err)
	env, err := Envelope(col)
	require.NoError(t, err)
	return env
}

func TestGeminiGenerator(t *testing.T) {
	env := envelopeFor(t, model.ColumnTypeText)
	client := &mockGemini{}
	client.On("GenerateJSON", mock.Anything, mock.MatchedBy(func(req gemini.JSONRequest) bool {
		return req.Model == "gemini-2.5-pro" && req.System == "sys" && req.Prompt == "prompt" && req.Schema["type"] == "object"
	})).Return(&gemini.Result{
		Text:  `{"result":"x"}`,
		Usage: gemini.Usage{InputTokens: 12, OutputTokens: 3},
	}, nil)

	g := NewGeminiGenerator(client, "gemini-2.5-pro")
	assert.Equal(t, "gemini", g.Name())

	out, err := g.GenerateJSON(context.Background(), GenerateRequest{System: "sys", Prompt: "prompt", SchemaName: ToolName, Schema: env})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"x"}`, out.Text)
	assert.Equal(t, "gemini-2.5-pro", out.Model)
	assert.Equal(t, int64(12), out.InputTokens)
	assert.Equal(t, int64(3), out.OutputTokens)
}

func TestGeminiGenerator_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"unavailable", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, true},
		{"rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, true},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockGemini{}
			client.On("GenerateJSON", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := NewGeminiGenerator(client, "gemini-2.5-flash").GenerateJSON(context.Background(), GenerateRequest{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "synth: gemini generate")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func anthropicServer(t *testing.T, status int, body map[string]any, check func(map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newAnthropicGenerator(url string) *AnthropicGenerator {
	client := anthropic.NewClient("test-key", option.WithBaseURL(url), option.WithMaxRetries(0))
	return NewAnthropicGenerator(client, "claude-sonnet-4-5-20250929", 0)
}

func TestAnthropicGenerator_ForcedTool(t *testing.T) {
	env := envelopeFor(t, model.ColumnTypeNumber)
	ts := anthropicServer(t, http.StatusOK, map[string]any{
		"id":   "msg_1",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "tool_use", "id": "toolu_1", "name": ToolName, "input": map[string]any{
				"result":   2015,
				"metadata": map[string]any{"reasoningSteps": []string{"a"}, "sources": []string{}},
			}},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "tool_use",
		"usage":       map[string]any{"input_tokens": 500, "output_tokens": 40},
	}, func(req map[string]any) {
		assert.Equal(t, float64(2048), req["max_tokens"])
		choice := req["tool_choice"].(map[string]any)
		assert.Equal(t, ToolName, choice["name"])
		tool := req["tools"].([]any)[0].(map[string]any)
		props := tool["input_schema"].(map[string]any)["properties"].(map[string]any)
		assert.Contains(t, props, "result")
		assert.Contains(t, props, "metadata")
	})

	g := newAnthropicGenerator(ts.URL)
	assert.Equal(t, "anthropic", g.Name())

	out, err := g.GenerateJSON(context.Background(), GenerateRequest{
		System: SystemInstruction, Prompt: "answers", SchemaName: ToolName, Schema: env,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":2015,"metadata":{"reasoningSteps":["a"],"sources":[]}}`, out.Text)
	assert.Equal(t, int64(500), out.InputTokens)
	assert.Equal(t, int64(40), out.OutputTokens)

	res, err := parseEnvelope(out.Text, model.ColumnTypeNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, model.NumberValue(2015), res.Value)
}

func TestAnthropicGenerator_NoToolCall(t *testing.T) {
	ts := anthropicServer(t, http.StatusOK, map[string]any{
		"id":          "msg_2",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": "I refuse."}},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 5, "output_tokens": 2},
	}, nil)

	_, err := newAnthropicGenerator(ts.URL).GenerateJSON(context.Background(), GenerateRequest{
		SchemaName: ToolName, Schema: envelopeFor(t, model.ColumnTypeText),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no record_cell_value tool call")
	assert.False(t, resilience.IsTransient(err))
}

func TestAnthropicGenerator_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"overloaded", http.StatusServiceUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := anthropicServer(t, tt.status, map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "api_error", "message": "nope"},
			}, nil)

			_, err := newAnthropicGenerator(ts.URL).GenerateJSON(context.Background(), GenerateRequest{
				SchemaName: ToolName, Schema: envelopeFor(t, model.ColumnTypeText),
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "synth: anthropic generate")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}
