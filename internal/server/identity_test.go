package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/llm-verdict/internal/api"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

type noopStarter struct{}

func (noopStarter) Start(context.Context, string) error { return nil }

func fixedOwner(owner string) ownerFunc {
	return func(*http.Request) (string, bool) { return owner, owner != "" }
}

func TestWithOwnerIgnoresForwardedUser(t *testing.T) {
	st := store.NewMemory()
	h := withOwner(fixedOwner("alice@example.com"), api.New(st, noopStarter{}, nil).Handler())

	body := `{"title":"t","user_message":"u","review_message":"r","num_requests":1,"selected_llms":["m"]}`
	req := httptest.NewRequest(http.MethodPost, "/tests", strings.NewReader(body))
	req.Header.Set(api.OwnerHeader, "mallory")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run testrun.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "alice@example.com", run.Owner)

	stored, err := st.ListRuns(context.Background(), "mallory")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestWithOwnerStripsHeaderAndSetsContext(t *testing.T) {
	var gotHeader, gotOwner string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(api.OwnerHeader)
		gotOwner, _ = testrun.OwnerFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(api.OwnerHeader, "mallory")
	withOwner(fixedOwner("alice@example.com"), next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, gotHeader)
	assert.Equal(t, "alice@example.com", gotOwner)
}

func TestWithOwnerRejectsMissingUser(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	rec := httptest.NewRecorder()
	withOwner(fixedOwner(""), next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tests", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestOAuthOwnerWithoutUserInfo(t *testing.T) {
	_, ok := oauthOwner(httptest.NewRequest(http.MethodGet, "/tests", nil))
	assert.False(t, ok)
}
