// Package provider issues completion requests to named model providers with
// bounded retry and exponential backoff.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/llm-verdict/internal/llm"
	"github.com/giantswarm/llm-verdict/internal/metrics"
)

const (
	// DefaultMaxAttempts bounds the number of calls per Complete.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry; attempt k waits BaseDelay * 2^k.
	DefaultBaseDelay = time.Second
	// DefaultMaxTokens is sent when the config does not set one.
	DefaultMaxTokens = 1000
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy controls how failed attempts are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Config holds provider client configuration.
type Config struct {
	Resolver    Resolver
	Retry       RetryPolicy
	MaxTokens   int
	Temperature *float64

	// Sleep replaces the backoff wait; tests use it to record delays.
	Sleep SleepFunc
}

// Client completes prompts against named providers.
type Client struct {
	config Config
}

// NewClient creates a new Client, filling unset fields with defaults.
func NewClient(config Config) *Client {
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if config.Retry.BaseDelay <= 0 {
		config.Retry.BaseDelay = DefaultBaseDelay
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	return &Client{config: config}
}

// Complete sends prompt to providerID and returns the completion text.
//
// RateLimited and Transient failures are retried up to the policy bound; Fatal
// failures return at once. When all attempts fail the result is a Fatal Error.
// If ctx is cancelled, ctx.Err() is returned, including during a backoff wait.
func (c *Client) Complete(ctx context.Context, providerID, prompt string) (string, error) {
	backend, err := c.config.Resolver.Resolve(ctx, providerID)
	if err != nil {
		return "", &Error{Kind: KindFatal, Provider: providerID, Message: "failed to resolve backend", Err: err}
	}

	req := llm.Request{
		Model:       providerID,
		Prompt:      prompt,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	var lastErr *Error
	for attempt := 0; attempt < c.config.Retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := backend.Send(ctx, req)
		if err == nil {
			metrics.RecordProviderRequest(providerID, "success")
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		lastErr = Classify(providerID, err)
		metrics.RecordProviderRequest(providerID, lastErr.Kind.String())
		if !lastErr.Kind.Retryable() {
			return "", lastErr
		}
		if attempt == c.config.Retry.MaxAttempts-1 {
			break
		}

		wait := c.config.Retry.BaseDelay << attempt
		slog.Warn("provider request failed, retrying",
			"provider", providerID,
			"attempt", attempt+1,
			"kind", lastErr.Kind.String(),
			"wait", wait,
			"error", err,
		)
		metrics.RecordProviderRetry(providerID, lastErr.Kind.String())
		if err := c.config.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	return "", &Error{
		Kind:     KindFatal,
		Provider: providerID,
		Message:  fmt.Sprintf("max retries reached after %d attempts", c.config.Retry.MaxAttempts),
		Err:      lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
