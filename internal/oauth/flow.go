package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultScope      = "mcp:tools mcp:resources"
	defaultClientName = "Unknown Client"

	tokenEntropyBytes = 32
)

var (
	// ErrInvalidGrant covers every protocol-level redemption failure:
	// unknown or expired code, parameter mismatch, failed PKCE check,
	// unknown refresh token. The HTTP layer maps it to a 400
	// invalid_grant response. Anything else is a backend failure.
	ErrInvalidGrant = errors.New("oauth: invalid grant")

	// ErrCodeExpired marks an authorization code past its expiry. It wraps
	// ErrInvalidGrant; stores additionally evict the code when they see it.
	ErrCodeExpired = fmt.Errorf("%w: code expired", ErrInvalidGrant)
)

// Flow implements the OAuth 2.1 protocol logic over an injectable Store:
// dynamic client registration, authorization codes with PKCE, code-for-token
// exchange, refresh, and bearer validation. It has no outbound dependencies
// except the store, the clock and crypto/rand.
type Flow struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewFlow creates a Flow backed by the given store.
func NewFlow(cfg Config, store Store) *Flow {
	return &Flow{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// SetClock overrides the time source. Used by tests to exercise expiry.
func (f *Flow) SetClock(now func() time.Time) { f.now = now }

// SetLogger sets a custom logger.
func (f *Flow) SetLogger(logger *slog.Logger) { f.logger = logger }

// Store returns the underlying store.
func (f *Flow) Store() Store { return f.store }

// RegisterClient handles Dynamic Client Registration (RFC 7591). Metadata is
// accepted permissively; absent fields get the documented defaults. The
// generated secret never expires (client_secret_expires_at = 0).
func (f *Flow) RegisterClient(meta ClientMetadata) (*RegisteredClient, error) {
	secret, err := RandomToken(tokenEntropyBytes)
	if err != nil {
		return nil, fmt.Errorf("generating client secret: %w", err)
	}

	client := &RegisteredClient{
		ClientID:                uuid.NewString(),
		ClientSecret:            secret,
		ClientIDIssuedAt:        f.now().Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            meta.RedirectURIs,
		TokenEndpointAuthMethod: meta.TokenEndpointAuthMethod,
		GrantTypes:              meta.GrantTypes,
		ResponseTypes:           meta.ResponseTypes,
		ClientName:              meta.ClientName,
		Scope:                   meta.Scope,
	}
	if client.RedirectURIs == nil {
		client.RedirectURIs = []string{}
	}
	if client.TokenEndpointAuthMethod == "" {
		client.TokenEndpointAuthMethod = "client_secret_basic"
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{"code"}
	}
	if client.ClientName == "" {
		client.ClientName = defaultClientName
	}
	if client.Scope == "" {
		client.Scope = defaultScope
	}

	if err := f.store.SaveClient(client); err != nil {
		return nil, err
	}

	f.logger.Info("registered oauth client", "client_id", client.ClientID, "client_name", client.ClientName)
	return client, nil
}

// GetClient looks up a registered client. Returns ErrNotFound for unknown ids.
func (f *Flow) GetClient(clientID string) (*RegisteredClient, error) {
	return f.store.GetClient(clientID)
}

// CreateAuthorizationCode issues a short-lived single-use code bound to the
// supplied client, redirect URI, scope and optional PKCE challenge. The
// caller is expected to have checked response_type already; the client_id is
// deliberately not re-validated against the registry here.
func (f *Flow) CreateAuthorizationCode(clientID, redirectURI, scope, codeChallenge, codeChallengeMethod string) (string, error) {
	code, err := RandomToken(tokenEntropyBytes)
	if err != nil {
		return "", fmt.Errorf("generating authorization code: %w", err)
	}

	now := f.now()
	record := &AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(f.cfg.AuthCodeTTL),
	}
	if err := f.store.SaveAuthorizationCode(record); err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeCodeForTokens redeems an authorization code for an access/refresh
// token pair. The stored client_id and redirect_uri must match the supplied
// values exactly (no normalization); an expired code is evicted on sight; a
// recorded PKCE challenge must be satisfied by code_verifier. Only after all
// checks pass is the code deleted, atomically with the lookup, so the first
// successful redeemer wins and a failed attempt never burns the code.
func (f *Flow) ExchangeCodeForTokens(code, clientID, redirectURI, codeVerifier string) (*TokenResponse, error) {
	record, err := f.store.RedeemAuthorizationCode(code, func(ac *AuthorizationCode) error {
		if ac.ClientID != clientID {
			return fmt.Errorf("%w: client_id mismatch", ErrInvalidGrant)
		}
		if ac.RedirectURI != redirectURI {
			return fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
		}
		if ac.ExpiresAt.Before(f.now()) {
			return ErrCodeExpired
		}
		return verifyPKCE(ac, codeVerifier)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown code", ErrInvalidGrant)
		}
		if errors.Is(err, ErrInvalidGrant) {
			f.logger.Info("code redemption rejected", "client_id", clientID, "reason", err)
		}
		return nil, err
	}

	return f.issueTokens(record.ClientID, record.Scope, true)
}

// RefreshAccessToken mints a new access token from a refresh token. The
// refresh token itself is neither rotated nor expired; the same value is
// returned to the caller.
func (f *Flow) RefreshAccessToken(refreshToken, clientID string) (*TokenResponse, error) {
	record, err := f.store.GetRefreshToken(refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
	}
	if err != nil {
		return nil, err
	}
	if record.ClientID != clientID {
		return nil, fmt.Errorf("%w: client_id mismatch", ErrInvalidGrant)
	}

	resp, err := f.issueTokens(record.ClientID, record.Scope, false)
	if err != nil {
		return nil, err
	}
	resp.RefreshToken = refreshToken
	return resp, nil
}

// ValidateAccessToken checks a bearer token against the access token store.
// It returns (nil, nil) for unknown or expired tokens; expired entries are
// evicted so repeated validation stays O(1). A non-nil error means the store
// backend failed, not that the token is invalid.
func (f *Flow) ValidateAccessToken(token string) (*AccessToken, error) {
	record, err := f.store.GetAccessToken(token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.ExpiresAt.Before(f.now()) {
		if err := f.store.DeleteAccessToken(token); err != nil {
			f.logger.Warn("evicting expired access token failed", "error", err)
		}
		return nil, nil
	}
	return record, nil
}

func (f *Flow) issueTokens(clientID, scope string, withRefresh bool) (*TokenResponse, error) {
	now := f.now()

	accessValue, err := RandomToken(tokenEntropyBytes)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	if err := f.store.SaveAccessToken(&AccessToken{
		Token:     accessValue,
		ClientID:  clientID,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(f.cfg.AccessTokenTTL),
	}); err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: accessValue,
		TokenType:   "Bearer",
		ExpiresIn:   int(f.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}

	if withRefresh {
		refreshValue, err := RandomToken(tokenEntropyBytes)
		if err != nil {
			return nil, fmt.Errorf("generating refresh token: %w", err)
		}
		if err := f.store.SaveRefreshToken(&RefreshToken{
			Token:     refreshValue,
			ClientID:  clientID,
			Scope:     scope,
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
		resp.RefreshToken = refreshValue
	}

	return resp, nil
}

// verifyPKCE checks code_verifier against the challenge recorded at the
// authorize step. S256 recomputes base64url(sha256(verifier)) with padding
// stripped; plain (or an unspecified method) compares the verifier directly.
func verifyPKCE(code *AuthorizationCode, verifier string) error {
	if code.CodeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("%w: code_verifier required", ErrInvalidGrant)
	}

	expected := verifier
	if code.CodeChallengeMethod == "S256" {
		sum := sha256.Sum256([]byte(verifier))
		expected = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if expected != code.CodeChallenge {
		return fmt.Errorf("%w: code_verifier mismatch", ErrInvalidGrant)
	}
	return nil
}
