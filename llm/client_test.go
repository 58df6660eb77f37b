package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto-scholar/config"
)

const chatResponseBody = `{
	"choices": [{"message": {"content": "{\"core_summary\": \"ok\"}"}}],
	"usage": {"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150}
}`

func newTestClient(t *testing.T, baseURL string, maxRetries int) *Client {
	t.Helper()
	cfg := &config.Config{
		LLMMaxRetries:     maxRetries,
		LLMTimeoutSeconds: 5,
		LLMRetryDelay:     0,
	}
	provider := config.ProviderConfig{
		Name:    "openai",
		APIKey:  "test-key",
		APIBase: baseURL,
		Model:   "gpt-4",
	}
	return NewClient(cfg, provider, zap.NewNop())
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(chatResponseBody))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	text, usage, err := client.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"core_summary": "ok"}`, text)
	require.NotNil(t, usage)
	assert.Equal(t, 100, usage.PromptTokens)
	assert.Equal(t, 50, usage.CompletionTokens)
	assert.Equal(t, 150, usage.TotalTokens)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, _, err := client.Complete(context.Background(), "system", "user")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.IsTransient())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	_, _, err := client.Complete(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewClientUsesLLMRetryDelay(t *testing.T) {
	cfg := &config.Config{
		LLMMaxRetries:     2,
		LLMTimeoutSeconds: 5,
		LLMRetryDelay:     3,
		CrawlerRetryDelay: 60,
	}
	client := NewClient(cfg, config.ProviderConfig{Name: "openai"}, zap.NewNop())
	assert.Equal(t, 3*time.Second, client.retryDelay)
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	cfg := &config.Config{LLMMaxRetries: 2, LLMTimeoutSeconds: 5}
	client := NewClient(cfg, config.ProviderConfig{Name: "kimi"}, zap.NewNop())

	_, _, err := client.Complete(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key missing")
}
