package llm

import "time"

// DefaultBaseURL is Anthropic's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.anthropic.com/v1/"

// Float64Ptr returns a pointer to the given float64 value.
// Useful for constructing Request with an explicit temperature.
func Float64Ptr(v float64) *float64 {
	return &v
}

// clientConfig holds configuration for an LLM client.
type clientConfig struct {
	baseURL     string
	apiKey      string
	timeout     time.Duration
	maxTokens   int
	temperature *float64
	rateLimit   float64
}

// Option is a functional option for configuring an LLM client.
type Option func(*clientConfig)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithMaxTokens sets the default completion budget.
// Per-request values in Request take precedence.
func WithMaxTokens(n int) Option {
	return func(c *clientConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature for requests.
// Per-request temperature settings in Request take precedence.
func WithTemperature(temp float64) Option {
	return func(c *clientConfig) {
		c.temperature = &temp
	}
}

// WithRateLimit caps outbound requests per second for this client.
// Zero disables the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(c *clientConfig) {
		c.rateLimit = perSecond
	}
}
