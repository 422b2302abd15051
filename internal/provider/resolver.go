package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/llm-verdict/internal/llm"
)

// ErrUnknownProvider is returned by a Resolver that cannot serve a provider id.
var ErrUnknownProvider = errors.New("unknown provider")

// Resolver maps a provider id to the backend serving it.
type Resolver interface {
	Resolve(ctx context.Context, providerID string) (llm.Backend, error)
}

// StaticResolver serves configured per-provider backends, falling back to Default.
type StaticResolver struct {
	Default   llm.Backend
	Overrides map[string]llm.Backend
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, providerID string) (llm.Backend, error) {
	if b, ok := r.Overrides[providerID]; ok {
		return b, nil
	}
	if r.Default != nil {
		return r.Default, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
}

// ChainResolver asks each resolver in order and returns the first backend found.
// Resolvers signal "not mine" with ErrUnknownProvider; any other error stops the chain.
type ChainResolver []Resolver

// Resolve implements Resolver.
func (c ChainResolver) Resolve(ctx context.Context, providerID string) (llm.Backend, error) {
	for _, r := range c {
		b, err := r.Resolve(ctx, providerID)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrUnknownProvider) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
}
