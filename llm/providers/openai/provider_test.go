package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/providers"
)

const streamBody = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}

data: [DONE]

`

func newTestProvider(t *testing.T, h http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{
			APIKey:  "test-key",
			BaseURL: srv.URL,
			Model:   "gpt-test",
		},
		Organization: "org-1",
	}, zap.NewNop(), option.WithMaxRetries(0))
}

func chatRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		RequestID: "req-1",
		AgentID:   "agent-1",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "Task: greet"},
			{Role: llm.RoleAssistant, Content: "{}"},
			{Role: llm.RoleUser, Content: "again"},
		},
		MaxTokens: 128,
	}
}

func TestOpenAIProvider_Stream(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, streamBody)
	})
	assert.Equal(t, "openai", p.Name())

	ch, err := p.Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	out, err := llm.Collect(context.Background(), ch)
	require.NoError(t, err)

	assert.Equal(t, "Hello", out.Content)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, 13, out.Usage.Total())
	assert.Equal(t, 10, out.Usage.PromptTokens)

	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, "agent-1", body["user"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	opts, ok := body["stream_options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, opts["include_usage"])
}

func TestOpenAIProvider_ModelOverride(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	req := chatRequest()
	req.Model = "gpt-other"
	ch, err := p.Stream(context.Background(), req)
	require.NoError(t, err)
	out, err := llm.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Empty(t, out.Content)
	assert.Equal(t, "gpt-other", body["model"])
}

func TestOpenAIProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      llm.ErrorCode
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{"forbidden", http.StatusForbidden, llm.ErrUnauthorized, false},
		{"server error", http.StatusInternalServerError, llm.ErrUpstreamError, true},
		{"gateway timeout", http.StatusGatewayTimeout, llm.ErrUpstreamTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"server_error"}}`)
			})
			ch, err := p.Stream(context.Background(), chatRequest())
			require.NoError(t, err)
			_, err = llm.Collect(context.Background(), ch)

			var lerr *llm.Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.code, lerr.Code)
			assert.Equal(t, tt.retryable, lerr.Retryable)
			assert.Equal(t, "openai", lerr.Provider)
		})
	}
}
