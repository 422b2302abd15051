package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Backend sends one completion request to an external model.
type Backend interface {
	// Send returns the text of the first choice. Errors from the remote API
	// keep the HTTP status code reachable through StatusCode.
	Send(ctx context.Context, req Request) (string, error)
}

// Request is a single-turn completion request.
type Request struct {
	Model     string
	Prompt    string
	MaxTokens int
	// Temperature is left to the backend default when nil.
	Temperature *float64
}

// ErrEmptyResponse is returned when the backend answers without choices.
var ErrEmptyResponse = errors.New("no choices returned")

// OpenAIClient implements Backend against an OpenAI-compatible API.
type OpenAIClient struct {
	client      *openai.Client
	limiter     *rate.Limiter
	maxTokens   int
	temperature *float64
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	cfg := &clientConfig{
		baseURL: DefaultBaseURL,
		apiKey:  "not-needed",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	config := openai.DefaultConfig(cfg.apiKey)
	config.BaseURL = cfg.baseURL
	if cfg.timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}

	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}
	if cfg.rateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.rateLimit), 1)
	}
	return c
}

// Send issues a non-streaming chat completion with a single user message.
func (c *OpenAIClient) Send(ctx context.Context, req Request) (string, error) {
	req = c.applyDefaults(req)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = wireTemperature(*req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}

// applyDefaults applies client-level defaults to a request where
// the request does not specify its own values.
func (c *OpenAIClient) applyDefaults(req Request) Request {
	if req.MaxTokens == 0 && c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == nil && c.temperature != nil {
		t := *c.temperature
		req.Temperature = &t
	}
	return req
}

// wireTemperature maps an explicit zero to the smallest positive float so the
// field survives go-openai's omitempty encoding.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// StatusCode returns the HTTP status code carried by a backend error.
func StatusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code, true
	}
	return 0, false
}

// StatusError is a backend failure with an HTTP status code. Backends not built
// on go-openai, and test doubles, use it to report remote status codes.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}
