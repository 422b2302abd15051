package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/giantswarm/llm-verdict/internal/coordinator"
	"github.com/giantswarm/llm-verdict/internal/grader"
	"github.com/giantswarm/llm-verdict/internal/kserve"
	"github.com/giantswarm/llm-verdict/internal/llm"
	"github.com/giantswarm/llm-verdict/internal/provider"
	"github.com/giantswarm/llm-verdict/internal/status"
	"github.com/giantswarm/llm-verdict/internal/status/redismirror"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/store/badgerstore"
	"github.com/giantswarm/llm-verdict/internal/store/pgstore"
)

// newBackendFromConfig creates an OpenAI-compatible backend for baseURL.
// An empty baseURL uses provider.base_url, then the llm default.
// The API key falls back to ANTHROPIC_API_KEY and OPENAI_API_KEY.
func newBackendFromConfig(baseURL string) llm.Backend {
	var opts []llm.Option
	if baseURL == "" {
		baseURL = viper.GetString(providerBaseURLKey)
	}
	if baseURL != "" {
		opts = append(opts, llm.WithBaseURL(baseURL))
	}
	if key := firstNonEmpty(viper.GetString(providerAPIKeyKey), "ANTHROPIC_API_KEY", "OPENAI_API_KEY"); key != "" {
		opts = append(opts, llm.WithAPIKey(key))
	}
	if d := viper.GetDuration(providerTimeoutKey); d > 0 {
		opts = append(opts, llm.WithTimeout(d))
	}
	if n := viper.GetInt(providerMaxTokensKey); n > 0 {
		opts = append(opts, llm.WithMaxTokens(n))
	}
	if r := viper.GetFloat64(providerRateLimitKey); r > 0 {
		opts = append(opts, llm.WithRateLimit(r))
	}
	return llm.NewOpenAIClient(opts...)
}

// deps bundles the collaborators a run needs.
type deps struct {
	store     store.Store
	publisher *status.Publisher
	completer *provider.Client
	grader    *grader.Grader
	discovery *kserve.Discovery

	closers []func() error
}

func (r *deps) newCoordinator() *coordinator.Coordinator {
	return coordinator.New(r.store, r.completer, r.grader, r.publisher)
}

// Close releases every opened resource, newest first.
func (r *deps) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newDeps opens the configured store, status mirror and provider chain.
func newDeps(ctx context.Context) (*deps, error) {
	rt := &deps{}

	st, err := newStoreFromConfig(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	// The store is authoritative; the mirror only answers for runs the store
	// cannot read and may hold a stale snapshot.
	loaders := []status.Loader{st}
	sinks := []status.Sink{}
	if url := viper.GetString(redisURLKey); url != "" {
		client, err := redismirror.NewClient(url)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		if err := redismirror.CheckConnection(ctx, client); err != nil {
			_ = rt.Close()
			return nil, err
		}
		mirror := redismirror.New(client, redismirror.Config{
			TTL:     viper.GetDuration(redisTTLKey),
			Channel: viper.GetString(redisChannelKey),
		})
		loaders = append(loaders, mirror)
		sinks = append(sinks, mirror)
		slog.Info("mirroring snapshots to redis")
	}

	rt.publisher, err = status.NewPublisher(status.DefaultTerminalCacheSize,
		status.WithLoaders(loaders...),
		status.WithSinks(sinks...),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	resolver, err := rt.newResolver(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.completer = provider.NewClient(provider.Config{
		Resolver:  resolver,
		MaxTokens: viper.GetInt(providerMaxTokensKey),
	})
	rt.grader = grader.NewGrader(newBackendFromConfig(""), grader.Config{
		Model: viper.GetString(graderModelKey),
	})
	return rt, nil
}

// newResolver chains explicit endpoint overrides, KServe discovery when
// enabled, then the default backend.
func (r *deps) newResolver(ctx context.Context) (provider.Resolver, error) {
	overrides := map[string]llm.Backend{}
	for id, url := range viper.GetStringMapString(providerEndpointsKey) {
		overrides[id] = newBackendFromConfig(url)
	}
	chain := provider.ChainResolver{&provider.StaticResolver{Overrides: overrides}}

	if viper.GetBool(kserveEnabledKey) {
		d, err := kserve.NewDiscovery(
			viper.GetString(kserveNamespaceKey),
			viper.GetString(kserveKubeconfigKey),
			viper.GetBool(kserveInClusterKey),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create KServe discovery: %w", err)
		}
		if err := d.CheckCRDAvailable(ctx); err != nil {
			slog.Warn("KServe InferenceService CRD not available", "error", err)
		}
		r.discovery = d
		chain = append(chain, kserve.NewResolver(d, newBackendFromConfig))
	}

	return append(chain, &provider.StaticResolver{Default: newBackendFromConfig("")}), nil
}

func newStoreFromConfig(ctx context.Context) (store.Store, error) {
	switch driver := viper.GetString(storeDriverKey); driver {
	case storeDriverMemory, "":
		return store.NewMemory(), nil
	case storeDriverBadger:
		path := viper.GetString(storePathKey)
		if path == "" {
			slog.Warn("store.path is empty, badger runs in memory")
		}
		return badgerstore.Open(path)
	case storeDriverPostgres:
		dsn := firstNonEmpty(viper.GetString(storeDSNKey), "DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("store.dsn (or DATABASE_URL) is required for the postgres driver")
		}
		return pgstore.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q (supported: %s, %s, %s)",
			driver, storeDriverMemory, storeDriverBadger, storeDriverPostgres)
	}
}
