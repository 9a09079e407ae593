package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchResponse = `{
	"id": "resp_1",
	"model": "gpt-4.1-mini",
	"status": "completed",
	"output": [
		{"type": "web_search_call", "id": "ws_1", "status": "completed"},
		{
			"type": "message",
			"role": "assistant",
			"content": [{
				"type": "output_text",
				"text": "Stripe was founded in 2010.",
				"annotations": [
					{"type": "url_citation", "url": "https://stripe.com/about", "title": "About"},
					{"type": "url_citation", "url": "https://en.wikipedia.org/wiki/Stripe,_Inc.", "title": "Wiki"},
					{"type": "url_citation", "url": "https://stripe.com/about", "title": "About"}
				]
			}]
		}
	],
	"usage": {"input_tokens": 120, "output_tokens": 30}
}`

func TestCreateResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "success", status: http.StatusOK, body: searchResponse},
		{name: "rate_limit", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, wantErr: "unexpected status 429"},
		{name: "bad_request", status: http.StatusBadRequest, body: `{"error":{"message":"bad"}}`, wantErr: "unexpected status 400"},
		{name: "malformed_response", status: http.StatusOK, body: `{nope`, wantErr: "unmarshal response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/responses", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				var req ResponseRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "gpt-4.1-mini", req.Model)
				assert.Equal(t, []Tool{WebSearchTool}, req.Tools)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			resp, err := client.CreateResponse(context.Background(), ResponseRequest{
				Input: "When was Stripe founded?",
				Tools: []Tool{WebSearchTool},
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "resp_1", resp.ID)
			assert.Equal(t, "Stripe was founded in 2010.", resp.OutputText())
			assert.Equal(t, []string{
				"https://stripe.com/about",
				"https://en.wikipedia.org/wiki/Stripe,_Inc.",
			}, resp.Sources())
			assert.Equal(t, 30, resp.Usage.OutputTokens)
		})
	}
}

func TestCreateResponse_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream"))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).CreateResponse(context.Background(), ResponseRequest{Input: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestCreateResponse_ModelOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ResponseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Equal(t, "be brief", req.Instructions)
		_, _ = w.Write([]byte(`{"id":"r","output":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithModel("gpt-4o"))
	resp, err := client.CreateResponse(context.Background(), ResponseRequest{Input: "x", Instructions: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "", resp.OutputText())
	assert.Empty(t, resp.Sources())
}

func TestCreateResponse_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).CreateResponse(ctx, ResponseRequest{Input: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputText_SkipsNonMessageItems(t *testing.T) {
	t.Parallel()
	r := &Response{Output: []OutputItem{
		{Type: "web_search_call"},
		{Type: "message", Content: []OutputContent{
			{Type: "output_text", Text: "a"},
			{Type: "refusal", Text: "no"},
			{Type: "output_text", Text: "b"},
		}},
	}}
	assert.Equal(t, "ab", r.OutputText())

	var nilResp *Response
	assert.Equal(t, "", nilResp.OutputText())
	assert.Nil(t, nilResp.Sources())
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	hc := NewClient("my-key").(*httpClient)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultModel, hc.model)

	custom := &http.Client{}
	hc = NewClient("my-key", WithHTTPClient(custom)).(*httpClient)
	assert.Equal(t, custom, hc.http)
}
