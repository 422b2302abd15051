package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	oauth "github.com/giantswarm/mcp-oauth"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	// DefaultMCPEndpoint is where MCP is mounted when HTTPConfig.MCPEndpoint is empty.
	DefaultMCPEndpoint = "/mcp"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 120 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// HTTPConfig describes what the HTTP server mounts.
type HTTPConfig struct {
	Addr string

	// API serves the REST and websocket routes, including /healthz and /metrics.
	API http.Handler

	// MCP is mounted at MCPEndpoint over streamable HTTP when set.
	MCP         *mcpserver.MCPServer
	MCPEndpoint string

	// OAuth protects everything except /healthz and /metrics when set. The
	// validated user becomes the owner of runs created through the server.
	OAuth *OAuthConfig
}

// HTTPServer serves the API and MCP on one listener.
type HTTPServer struct {
	httpServer  *http.Server
	oauthServer *oauth.Server
}

// NewHTTPServer builds the route table described by cfg.
func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("API handler is required")
	}
	if cfg.MCPEndpoint == "" {
		cfg.MCPEndpoint = DefaultMCPEndpoint
	}

	s := &HTTPServer{}
	protect := func(h http.Handler) http.Handler { return h }

	mux := http.NewServeMux()
	if cfg.OAuth != nil {
		srv, handler, err := newOAuth(*cfg.OAuth)
		if err != nil {
			return nil, err
		}
		s.oauthServer = srv
		registerOAuthRoutes(mux, handler, cfg.MCPEndpoint)
		protect = func(h http.Handler) http.Handler {
			return handler.ValidateToken(withOwner(oauthOwner, h))
		}
	}

	if cfg.MCP != nil {
		mcpHandler := mcpserver.NewStreamableHTTPServer(cfg.MCP,
			mcpserver.WithEndpointPath(cfg.MCPEndpoint),
		)
		mux.Handle(cfg.MCPEndpoint, protect(mcpHandler))
	}

	// Probes stay unauthenticated.
	mux.Handle("/healthz", cfg.API)
	mux.Handle("/metrics", cfg.API)
	mux.Handle("/", protect(cfg.API))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server stops. A graceful shutdown returns nil.
func (s *HTTPServer) ListenAndServe() error {
	return ignoreClosed(s.httpServer.ListenAndServe())
}

// Serve is ListenAndServe on an existing listener.
func (s *HTTPServer) Serve(l net.Listener) error {
	return ignoreClosed(s.httpServer.Serve(l))
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.oauthServer != nil {
		if err := s.oauthServer.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OAuth server", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
