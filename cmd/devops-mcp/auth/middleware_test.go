package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/devops-mcp/internal/oauth"
)

func newTestFlow(t *testing.T) *oauth.Flow {
	t.Helper()
	store := oauth.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return oauth.NewFlow(oauth.Config{
		ServerURL:      "https://mcp.example.com",
		AccessTokenTTL: time.Hour,
		AuthCodeTTL:    10 * time.Minute,
	}, store)
}

func issueAccessToken(t *testing.T, flow *oauth.Flow) string {
	t.Helper()
	code, err := flow.CreateAuthorizationCode("c1", "https://app.example.com/cb", "mcp:tools", "", "plain")
	require.NoError(t, err)
	tokens, err := flow.ExchangeCodeForTokens(code, "c1", "https://app.example.com/cb", "")
	require.NoError(t, err)
	return tokens.AccessToken
}

func callGate(m *Middleware, header string) (*httptest.ResponseRecorder, bool) {
	passed := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		passed = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, passed
}

func TestMiddleware(t *testing.T) {
	t.Run("issued access token passes", func(t *testing.T) {
		flow := newTestFlow(t)
		token := issueAccessToken(t, flow)

		rec, passed := callGate(NewMiddleware(flow, "static-secret"), "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, passed)
	})

	t.Run("static token passes", func(t *testing.T) {
		flow := newTestFlow(t)
		rec, passed := callGate(NewMiddleware(flow, "static-secret"), "Bearer static-secret")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, passed)
	})

	t.Run("bad token is rejected", func(t *testing.T) {
		flow := newTestFlow(t)
		rec, passed := callGate(NewMiddleware(flow, "static-secret"), "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, passed)
	})

	t.Run("missing token is rejected when a static token is set", func(t *testing.T) {
		flow := newTestFlow(t)
		rec, passed := callGate(NewMiddleware(flow, "static-secret"), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, passed)
	})

	t.Run("open access when no static token is configured", func(t *testing.T) {
		flow := newTestFlow(t)
		rec, passed := callGate(NewMiddleware(flow, ""), "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, passed)
	})

	t.Run("OPTIONS bypasses auth", func(t *testing.T) {
		flow := newTestFlow(t)
		m := NewMiddleware(flow, "static-secret")

		passed := false
		handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
		}))
		req := httptest.NewRequest(http.MethodOptions, "/sse", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.True(t, passed)
	})
}

func TestExtractTokenFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", ExtractTokenFromHeader(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractTokenFromHeader(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", ExtractTokenFromHeader(req))
}
