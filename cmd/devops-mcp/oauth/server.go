package oauth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/flowmetrics/devops-mcp/internal/oauth"
)

// Server exposes the OAuth 2.1 endpoints over HTTP and owns the mapping
// from protocol failures to OAuth error codes. All state lives in the flow.
type Server struct {
	cfg    oauth.Config
	flow   *oauth.Flow
	logger *slog.Logger
}

// NewServer creates a new OAuth endpoint layer.
func NewServer(cfg oauth.Config, flow *oauth.Flow) *Server {
	return &Server{
		cfg:    cfg,
		flow:   flow,
		logger: slog.Default(),
	}
}

// Register attaches every OAuth route, including the legacy /register path
// some clients still use.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.HandleAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.HandleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource/sse", s.HandleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/jwks.json", s.HandleJWKS)
	mux.HandleFunc("/oauth/register", s.HandleRegister)
	mux.HandleFunc("/oauth/authorize", s.HandleAuthorize)
	mux.HandleFunc("/oauth/token", s.HandleToken)
	mux.HandleFunc("/register", s.HandleRegister)
}

// HandleAuthorizationServerMetadata serves the RFC 8414 document.
func (s *Server) HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.AuthorizationServerMetadata())
}

// HandleProtectedResourceMetadata serves the protected-resource document
// for both the root and /sse resource paths.
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.ProtectedResourceMetadata())
}

// HandleJWKS serves an empty key set: access tokens are opaque, not signed.
func (s *Server) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, oauth.EmptyJWKS())
}

// HandleRegister implements Dynamic Client Registration (RFC 7591).
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var meta oauth.ClientMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		s.logger.Warn("client registration failed", "error", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata")
		return
	}

	client, err := s.flow.RegisterClient(meta)
	if err != nil {
		s.logger.Error("client registration failed", "error", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata")
		return
	}

	writeJSON(w, http.StatusCreated, client)
}

// HandleAuthorize is the authorization endpoint. Requests are auto-approved:
// there is no login or consent step, the endpoint immediately issues a code
// and redirects back to the client.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if query.Get("response_type") != "code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type")
		return
	}

	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	scope := query.Get("scope")
	if scope == "" {
		scope = "mcp:tools mcp:resources"
	}
	state := query.Get("state")
	codeChallenge := query.Get("code_challenge")
	codeChallengeMethod := query.Get("code_challenge_method")
	if codeChallengeMethod == "" {
		codeChallengeMethod = "plain"
	}

	code, err := s.flow.CreateAuthorizationCode(clientID, redirectURI, scope, codeChallenge, codeChallengeMethod)
	if err != nil {
		s.logger.Error("authorization code issuance failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	s.logger.Info("authorization granted", "client_id", clientID)
	http.Redirect(w, r, buildRedirect(redirectURI, code, state), http.StatusFound)
}

// HandleToken is the token endpoint. It accepts form-encoded or JSON bodies
// and client credentials via Basic auth or body fields.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := parseTokenRequest(r)
	if err != nil {
		s.logger.Error("token request parse failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	clientID := body["client_id"]
	if basicID, _, ok := parseBasicAuth(r); ok {
		clientID = basicID
	}

	var tokens *oauth.TokenResponse
	switch body["grant_type"] {
	case "authorization_code":
		tokens, err = s.flow.ExchangeCodeForTokens(
			body["code"], clientID, body["redirect_uri"], body["code_verifier"])
	case "refresh_token":
		tokens, err = s.flow.RefreshAccessToken(body["refresh_token"], clientID)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	if errors.Is(err, oauth.ErrInvalidGrant) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if err != nil {
		s.logger.Error("token endpoint error", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	s.logger.Info("tokens issued", "client_id", clientID)
	writeJSON(w, http.StatusOK, tokens)
}

// parseTokenRequest normalizes a form-encoded or JSON body into a plain
// key-value map before anything touches the flow.
func parseTokenRequest(r *http.Request) (map[string]string, error) {
	body := make(map[string]string)

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		for key, val := range raw {
			if str, ok := val.(string); ok {
				body[key] = str
			}
		}
		return body, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for key := range r.PostForm {
		body[key] = r.PostForm.Get(key)
	}
	return body, nil
}

func parseBasicAuth(r *http.Request) (clientID, clientSecret string, ok bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", false
	}
	id, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return id, secret, true
}

func buildRedirect(base, code, state string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
