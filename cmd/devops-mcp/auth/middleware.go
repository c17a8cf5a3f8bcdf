package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flowmetrics/devops-mcp/internal/oauth"
)

type contextKey string

// TokenContextKey carries the validated access token record, when the
// request authenticated with an issued OAuth token rather than the static
// credential.
const TokenContextKey contextKey = "oauth_token"

// Middleware gates protected transport endpoints with bearer tokens. A
// request passes when it presents a valid issued access token or the static
// pre-shared token; when no static token is configured, unauthenticated
// access is allowed.
type Middleware struct {
	flow        *oauth.Flow
	staticToken string
	logger      *slog.Logger
}

// NewMiddleware creates the bearer gate.
func NewMiddleware(flow *oauth.Flow, staticToken string) *Middleware {
	return &Middleware{
		flow:        flow,
		staticToken: staticToken,
		logger:      slog.Default(),
	}
}

// Handler wraps an HTTP handler with bearer validation.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight passes through without auth
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := ExtractTokenFromHeader(r)
		if token == "" {
			// Allow unauthenticated access only when no static token
			// is configured.
			if m.staticToken == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		record, err := m.flow.ValidateAccessToken(token)
		if err != nil {
			m.logger.Error("token validation failed", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if record != nil {
			ctx := context.WithValue(r.Context(), TokenContextKey, record)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Fall back to the static pre-shared token.
		if m.staticToken != "" && token == m.staticToken {
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// HandlerFunc wraps an HTTP handler function with bearer validation.
func (m *Middleware) HandlerFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Handler(next).ServeHTTP(w, r)
	}
}

// ExtractTokenFromHeader pulls the bearer token from the Authorization
// header, or "" when absent or not a Bearer scheme.
func ExtractTokenFromHeader(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
