package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1718409600,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Run 3x this week."}}],
	"usage": {"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, waits *[]time.Duration) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient(&OpenAIConfig{
		APIKey:           "sk-test",
		BaseURL:          server.URL,
		Timeout:          5 * time.Second,
		RateLimitRetries: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if waits != nil {
				*waits = append(*waits, d)
			}
			return nil
		},
	})
	require.NoError(t, err)
	return client
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(&OpenAIConfig{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	client, err := NewOpenAIClient(&OpenAIConfig{APIKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.ModelName())
}

func TestComplete_SendsPromptAndParsesAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, "summarize my week", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionBody)
	}, nil)

	completion, err := client.Complete(context.Background(), CompletionRequest{
		System: "You are a coach.",
		Prompt: "summarize my week",
	})
	require.NoError(t, err)
	assert.Equal(t, "Run 3x this week.", completion.Content)
	assert.Equal(t, "gpt-4o-mini", completion.Model)
	assert.Equal(t, 48, completion.TokensUsed)
}

func TestComplete_RetriesRateLimits(t *testing.T) {
	var calls int32
	var waits []time.Duration
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`)
			return
		}
		fmt.Fprint(w, completionBody)
	}, &waits)

	completion, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Run 3x this week.", completion.Content)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}

func TestComplete_OtherErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}, nil)

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.False(t, IsRateLimitError(err))
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestComplete_RateLimitRetriesExhausted(t *testing.T) {
	var calls int32
	var waits []time.Duration
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`)
	}, &waits)

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsRateLimitError(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}
