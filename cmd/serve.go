package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/llm-verdict/internal/api"
	"github.com/giantswarm/llm-verdict/internal/coordinator"
	mcptools "github.com/giantswarm/llm-verdict/internal/mcp"
	"github.com/giantswarm/llm-verdict/internal/server"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, websocket observers and MCP tools",
		Long: `Start the llm-verdict server.

The HTTP listener serves the REST API (/tests), websocket progress (/ws/{id}),
/healthz and /metrics. MCP tools are exposed either on the same listener
(streamable-http, default) or over stdio for IDE integration.

When OAuth is enabled, everything except /healthz and /metrics requires a
bearer token issued through Dex.

On SIGINT or SIGTERM in-flight runs are cancelled and recorded as Failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}

	cmd.Flags().String("http-addr", defaultHTTPAddr, "HTTP listen address")
	cmd.Flags().String("transport", transportStreamableHTTP, "MCP transport: streamable-http or stdio")
	cmd.Flags().String("mcp-endpoint", server.DefaultMCPEndpoint, "MCP endpoint path (for streamable-http)")
	cmd.Flags().Bool("disable-mcp", false, "Do not expose MCP tools")
	cmd.Flags().String("definitions-dir", "", "Directory of YAML definitions create_test may reference")
	cmd.Flags().String("redis-url", "", "Mirror snapshots to redis (redis://host:port/db)")

	cmd.Flags().Bool("enable-oauth", false, "Enable OAuth 2.1 authentication")
	cmd.Flags().String("oauth-base-url", "", "OAuth base URL (e.g. https://llm-verdict.example.com)")
	cmd.Flags().String("oauth-provider", server.OAuthProviderDex, "OAuth provider: dex")
	cmd.Flags().String("dex-issuer-url", "", "Dex OIDC issuer URL")
	cmd.Flags().String("dex-client-id", "", "Dex OAuth client ID")
	cmd.Flags().String("dex-client-secret", "", "Dex OAuth client secret")

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if disabled, _ := cmd.Flags().GetBool("disable-mcp"); disabled {
			viper.Set(mcpEnabledKey, false)
		}
		return bindFlags(cmd, map[string]string{
			"http-addr":         httpAddrKey,
			"transport":         mcpTransportKey,
			"mcp-endpoint":      mcpEndpointKey,
			"definitions-dir":   mcpDefinitionsKey,
			"redis-url":         redisURLKey,
			"enable-oauth":      oauthEnabledKey,
			"oauth-base-url":    oauthBaseURLKey,
			"oauth-provider":    oauthProviderKey,
			"dex-issuer-url":    oauthDexIssuerKey,
			"dex-client-id":     oauthDexClientKey,
			"dex-client-secret": oauthDexSecretKey,
		})
	}

	return cmd
}

func runServe(ctx context.Context) error {
	d, err := newDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			slog.Error("failed to close resources", "error", err)
		}
	}()

	dispatcher := coordinator.NewDispatcher(d.newCoordinator(), d.store)
	dispatcher.SetPublisher(d.publisher)
	a := api.New(d.store, dispatcher, d.publisher)

	httpCfg := server.HTTPConfig{
		Addr:        viper.GetString(httpAddrKey),
		API:         a.Handler(),
		MCPEndpoint: viper.GetString(mcpEndpointKey),
	}

	var mcpSrv *mcpserver.MCPServer
	transport := viper.GetString(mcpTransportKey)
	if viper.GetBool(mcpEnabledKey) {
		mcpSrv, err = newMCPServer(d, dispatcher)
		if err != nil {
			return err
		}
		switch transport {
		case transportStreamableHTTP:
			httpCfg.MCP = mcpSrv
		case transportStdio:
		default:
			return fmt.Errorf("unsupported transport: %s (supported: %s, %s)", transport, transportStdio, transportStreamableHTTP)
		}
	}

	if viper.GetBool(oauthEnabledKey) {
		oauthCfg, err := oauthConfigFromViper()
		if err != nil {
			return err
		}
		httpCfg.OAuth = oauthCfg
	}

	httpSrv, err := server.NewHTTPServer(httpCfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpCfg.Addr, "mcp", httpCfg.MCP != nil, "oauth", httpCfg.OAuth != nil)
		if err := httpSrv.ListenAndServe(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if mcpSrv != nil && transport == transportStdio {
		g.Go(func() error {
			stdio := mcpserver.NewStdioServer(mcpSrv)
			err := stdio.Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio server stopped with error: %w", err)
			}
			// Closing stdin ends the session and the server with it.
			return errStdioClosed
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "active_runs", len(dispatcher.Active()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration(shutdownTimeoutKey))
		defer cancel()

		var errs []error
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error draining runs: %w", err))
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down HTTP server: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStdioClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

var errStdioClosed = errors.New("stdio session closed")

func newMCPServer(d *deps, starter server.RunStarter) (*mcpserver.MCPServer, error) {
	mcpSrv := mcpserver.NewMCPServer("llm-verdict", rootCmd.Version,
		mcpserver.WithToolCapabilities(true),
	)

	sc := &server.ServerContext{
		Store:          d.store,
		Runs:           starter,
		Snapshots:      d.publisher,
		DefinitionsDir: viper.GetString(mcpDefinitionsKey),
	}
	if d.discovery != nil {
		sc.Models = d.discovery
	}

	if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
		return nil, fmt.Errorf("failed to register MCP tools: %w", err)
	}
	return mcpSrv, nil
}

func oauthConfigFromViper() (*server.OAuthConfig, error) {
	cfg := &server.OAuthConfig{
		BaseURL:         viper.GetString(oauthBaseURLKey),
		Provider:        viper.GetString(oauthProviderKey),
		DexIssuerURL:    firstNonEmpty(viper.GetString(oauthDexIssuerKey), "DEX_ISSUER_URL"),
		DexClientID:     firstNonEmpty(viper.GetString(oauthDexClientKey), "DEX_CLIENT_ID"),
		DexClientSecret: firstNonEmpty(viper.GetString(oauthDexSecretKey), "DEX_CLIENT_SECRET"),
	}

	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("--oauth-base-url is required when --enable-oauth is set")
	case cfg.DexIssuerURL == "":
		return nil, fmt.Errorf("dex issuer URL is required (--dex-issuer-url or DEX_ISSUER_URL)")
	case cfg.DexClientID == "":
		return nil, fmt.Errorf("dex client ID is required (--dex-client-id or DEX_CLIENT_ID)")
	case cfg.DexClientSecret == "":
		return nil, fmt.Errorf("dex client secret is required (--dex-client-secret or DEX_CLIENT_SECRET)")
	}
	return cfg, nil
}
