// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"sync"

	"github.com/giantswarm/llm-verdict/internal/llm"
)

// Reply is one scripted backend answer.
type Reply struct {
	Text string
	Err  error
}

// MockBackend is a configurable llm.Backend used across test packages.
// It is safe for concurrent use.
type MockBackend struct {
	// Script is consumed in order; once exhausted DefaultResponse is returned.
	Script []Reply

	// Responses maps prompts to canned responses, checked when Script is empty.
	Responses map[string]string

	// DefaultResponse is returned when nothing else matches.
	DefaultResponse string

	// OnSend, when set, is called before a reply is chosen.
	OnSend func(ctx context.Context, req llm.Request)

	mu       sync.Mutex
	requests []llm.Request
}

// Send implements llm.Backend.
func (m *MockBackend) Send(ctx context.Context, req llm.Request) (string, error) {
	if m.OnSend != nil {
		m.OnSend(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.Script) > 0 {
		r := m.Script[0]
		m.Script = m.Script[1:]
		return r.Text, r.Err
	}

	if resp, ok := m.Responses[req.Prompt]; ok {
		return resp, nil
	}

	if m.DefaultResponse != "" {
		return m.DefaultResponse, nil
	}

	return "mock response", nil
}

// Calls returns the number of Send invocations.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of all requests seen so far.
func (m *MockBackend) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockBackend) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.Request{}
	}
	return m.requests[len(m.requests)-1]
}
