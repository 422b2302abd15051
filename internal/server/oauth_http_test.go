package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHTTPSRequirement(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{
			name:    "https is valid",
			baseURL: "https://llm-verdict.example.com",
		},
		{
			name:    "localhost http is valid",
			baseURL: "http://localhost:8080",
		},
		{
			name:    "127.0.0.1 http is valid",
			baseURL: "http://127.0.0.1:8080",
		},
		{
			name:    "ipv6 loopback http is valid",
			baseURL: "http://[::1]:8080",
		},
		{
			name:    "non-localhost http is invalid",
			baseURL: "http://example.com",
			wantErr: true,
		},
		{
			name:    "empty URL is invalid",
			baseURL: "",
			wantErr: true,
		},
		{
			name:    "ftp scheme is invalid",
			baseURL: "ftp://example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHTTPSRequirement(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func apiStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", "api")
		_, _ = w.Write([]byte(r.URL.Path))
	})
}

func TestNewHTTPServerRequiresAPI(t *testing.T) {
	_, err := NewHTTPServer(HTTPConfig{})
	assert.Error(t, err)
}

func TestNewHTTPServerRejectsUnknownOAuthProvider(t *testing.T) {
	_, err := NewHTTPServer(HTTPConfig{
		API:   apiStub(),
		OAuth: &OAuthConfig{BaseURL: "https://example.com", Provider: "okta"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported OAuth provider")
}

func TestHTTPServerRoutesAPI(t *testing.T) {
	s, err := NewHTTPServer(HTTPConfig{
		API: apiStub(),
		MCP: mcpserver.NewMCPServer("test", "0.0.0"),
	})
	require.NoError(t, err)

	for _, path := range []string{"/healthz", "/metrics", "/tests", "/tests/abc/status"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, "api", rec.Header().Get("X-Served-By"), path)
		assert.Equal(t, path, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, DefaultMCPEndpoint, strings.NewReader("{")))
	assert.Empty(t, rec.Header().Get("X-Served-By"))
}

func TestHTTPServerGracefulShutdown(t *testing.T) {
	s, err := NewHTTPServer(HTTPConfig{API: apiStub()})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
