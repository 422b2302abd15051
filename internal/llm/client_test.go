package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient()
	assert.Zero(t, client.maxTokens)
	assert.Nil(t, client.temperature)
	assert.Nil(t, client.limiter)
}

func TestNewOpenAIClientWithAllOptions(t *testing.T) {
	client := NewOpenAIClient(
		WithBaseURL("https://api.example.com/v1"),
		WithAPIKey("sk-test"),
		WithMaxTokens(1000),
		WithTemperature(0.5),
		WithRateLimit(2),
	)
	assert.Equal(t, 1000, client.maxTokens)
	require.NotNil(t, client.temperature)
	assert.Equal(t, 0.5, *client.temperature)
	assert.NotNil(t, client.limiter)
}

func TestApplyDefaultsRequestTakesPrecedence(t *testing.T) {
	client := NewOpenAIClient(WithMaxTokens(1000), WithTemperature(0.8))

	req := client.applyDefaults(Request{Prompt: "hello"})
	assert.Equal(t, 1000, req.MaxTokens)
	assert.Equal(t, 0.8, *req.Temperature)

	req = client.applyDefaults(Request{Prompt: "hello", MaxTokens: 1, Temperature: Float64Ptr(0)})
	assert.Equal(t, 1, req.MaxTokens)
	assert.Equal(t, 0.0, *req.Temperature)
}

func TestWireTemperature(t *testing.T) {
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), wireTemperature(0))
	assert.Equal(t, float32(0.5), wireTemperature(0.5))
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(WithBaseURL(srv.URL+"/v1"), WithAPIKey("test"))
}

func TestSendReturnsFirstChoice(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Canberra"}}]}`)
	})

	text, err := client.Send(context.Background(), Request{Model: "m", Prompt: "capital?", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "Canberra", text)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 10, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[0].Role)
	assert.Equal(t, "capital?", got.Messages[0].Content)
}

func TestSendNoChoices(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := client.Send(context.Background(), Request{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSendExposesStatusCode(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	})

	_, err := client.Send(context.Background(), Request{Model: "m", Prompt: "p"})
	require.Error(t, err)

	code, ok := StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestStatusCode(t *testing.T) {
	code, ok := StatusCode(fmt.Errorf("wrapped: %w", &StatusError{Code: 503}))
	assert.True(t, ok)
	assert.Equal(t, 503, code)

	_, ok = StatusCode(fmt.Errorf("plain"))
	assert.False(t, ok)
}
