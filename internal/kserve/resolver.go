package kserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/giantswarm/llm-verdict/internal/llm"
	"github.com/giantswarm/llm-verdict/internal/provider"
)

// ErrNotReady is returned for InferenceServices that exist but cannot serve yet.
var ErrNotReady = errors.New("inference service not ready")

// BackendFactory builds a backend for an endpoint base URL.
type BackendFactory func(baseURL string) llm.Backend

// Resolver maps provider ids to backends for ready InferenceServices.
// Providers without an InferenceService report provider.ErrUnknownProvider
// so a provider.ChainResolver can fall through to the next resolver.
type Resolver struct {
	discovery  *Discovery
	newBackend BackendFactory

	mu       sync.Mutex
	backends map[string]llm.Backend
}

func NewResolver(discovery *Discovery, newBackend BackendFactory) *Resolver {
	return &Resolver{
		discovery:  discovery,
		newBackend: newBackend,
		backends:   make(map[string]llm.Backend),
	}
}

// Resolve implements provider.Resolver. Backends are reused per endpoint URL.
func (r *Resolver) Resolve(ctx context.Context, providerID string) (llm.Backend, error) {
	ep, err := r.discovery.Get(ctx, providerID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnknownProvider, err)
	}
	if err != nil {
		return nil, err
	}
	if !ep.Ready {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotReady, providerID, ep.Message)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[ep.URL]; ok {
		return b, nil
	}
	slog.Debug("resolved provider to InferenceService", "provider", providerID, "url", ep.URL)
	b := r.newBackend(ep.URL)
	r.backends[ep.URL] = b
	return b, nil
}
