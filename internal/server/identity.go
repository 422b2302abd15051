package server

import (
	"net/http"

	oauth "github.com/giantswarm/mcp-oauth"

	"github.com/giantswarm/llm-verdict/internal/api"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

// ownerFunc returns the authenticated caller of a validated request.
type ownerFunc func(r *http.Request) (string, bool)

// oauthOwner reads the user mcp-oauth attached after validating the bearer token.
func oauthOwner(r *http.Request) (string, bool) {
	info, ok := oauth.UserInfoFromContext(r.Context())
	if !ok || info == nil {
		return "", false
	}
	if info.Email != "" {
		return info.Email, true
	}
	return info.ID, info.ID != ""
}

// withOwner puts the authenticated caller on the request context and drops
// any client supplied identity header, so neither the REST API nor MCP tools
// can be told a different owner.
func withOwner(owner ownerFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := owner(r)
		if !ok {
			http.Error(w, "missing authenticated user", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(testrun.ContextWithOwner(r.Context(), id))
		r.Header.Del(api.OwnerHeader)
		next.ServeHTTP(w, r)
	})
}
