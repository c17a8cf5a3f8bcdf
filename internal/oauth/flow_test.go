package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ServerURL:      "https://mcp.example.com",
		AccessTokenTTL: time.Hour,
		AuthCodeTTL:    10 * time.Minute,
	}
}

func newTestFlow(t *testing.T) (*Flow, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return NewFlow(testConfig(), store), store
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestRegisterClient(t *testing.T) {
	flow, _ := newTestFlow(t)

	t.Run("applies defaults for empty metadata", func(t *testing.T) {
		client, err := flow.RegisterClient(ClientMetadata{})
		require.NoError(t, err)

		assert.NotEmpty(t, client.ClientID)
		assert.NotEmpty(t, client.ClientSecret)
		assert.EqualValues(t, 0, client.ClientSecretExpiresAt)
		assert.Equal(t, "client_secret_basic", client.TokenEndpointAuthMethod)
		assert.Equal(t, []string{"authorization_code", "refresh_token"}, client.GrantTypes)
		assert.Equal(t, []string{"code"}, client.ResponseTypes)
		assert.Equal(t, "Unknown Client", client.ClientName)
		assert.Equal(t, "mcp:tools mcp:resources", client.Scope)
		assert.NotNil(t, client.RedirectURIs)
	})

	t.Run("preserves supplied metadata", func(t *testing.T) {
		client, err := flow.RegisterClient(ClientMetadata{
			RedirectURIs:  []string{"https://app.example.com/callback"},
			ClientName:    "Deploy Bot",
			Scope:         "mcp:tools",
			GrantTypes:    []string{"authorization_code"},
			ResponseTypes: []string{"code"},
		})
		require.NoError(t, err)

		assert.Equal(t, "Deploy Bot", client.ClientName)
		assert.Equal(t, "mcp:tools", client.Scope)
		assert.Equal(t, []string{"https://app.example.com/callback"}, client.RedirectURIs)
	})

	t.Run("generated client ids are unique", func(t *testing.T) {
		a, err := flow.RegisterClient(ClientMetadata{})
		require.NoError(t, err)
		b, err := flow.RegisterClient(ClientMetadata{})
		require.NoError(t, err)
		assert.NotEqual(t, a.ClientID, b.ClientID)

		stored, err := flow.GetClient(a.ClientID)
		require.NoError(t, err)
		assert.Equal(t, a.ClientSecret, stored.ClientSecret)
	})
}

func TestExchangeCodeForTokens(t *testing.T) {
	const (
		clientID    = "client-1"
		redirectURI = "https://app.example.com/cb"
	)

	t.Run("valid exchange issues tokens and consumes the code", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)

		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
		assert.NotEmpty(t, tokens.RefreshToken)
		assert.Equal(t, "Bearer", tokens.TokenType)
		assert.Equal(t, 3600, tokens.ExpiresIn)
		assert.Equal(t, "mcp:tools", tokens.Scope)

		// Replay must fail: the code was deleted on success.
		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("client_id mismatch rejects without burning the code", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)

		_, err = flow.ExchangeCodeForTokens(code, "other-client", redirectURI, "")
		require.ErrorIs(t, err, ErrInvalidGrant)

		// A later attempt with correct parameters still succeeds.
		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("redirect_uri must match exactly", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)

		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI+"/", "")
		require.ErrorIs(t, err, ErrInvalidGrant)

		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("unknown code is invalid_grant", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		_, err := flow.ExchangeCodeForTokens("nonexistent", clientID, redirectURI, "")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("expired code is rejected and evicted", func(t *testing.T) {
		flow, store := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)

		flow.SetClock(func() time.Time { return time.Now().Add(11 * time.Minute) })

		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.ErrorIs(t, err, ErrInvalidGrant)

		// Evicted on sight: the second attempt sees an unknown code.
		_, err = store.RedeemAuthorizationCode(code, func(*AuthorizationCode) error { return nil })
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPKCE(t *testing.T) {
	const (
		clientID    = "client-1"
		redirectURI = "https://app.example.com/cb"
		verifier    = "abc123"
	)

	t.Run("S256 challenge accepts the matching verifier", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", s256(verifier), "S256")
		require.NoError(t, err)

		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, verifier)
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("S256 challenge rejects a wrong verifier", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", s256(verifier), "S256")
		require.NoError(t, err)

		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI, "wrong")
		require.ErrorIs(t, err, ErrInvalidGrant)

		// The failed PKCE check must not consume the code.
		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI, verifier)
		require.NoError(t, err)
	})

	t.Run("S256 challenge rejects a missing verifier", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", s256(verifier), "S256")
		require.NoError(t, err)

		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("plain challenge compares verifier directly", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", verifier, "plain")
		require.NoError(t, err)

		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, verifier)
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("no challenge means no verifier required", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)

		_, err = flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)
	})
}

// Two goroutines racing to redeem the same code: exactly one may win.
func TestConcurrentCodeRedemption(t *testing.T) {
	const attempts = 50

	for i := 0; i < attempts; i++ {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode("client-1", "https://app.example.com/cb", "mcp:tools", "", "plain")
		require.NoError(t, err)

		var wins int64
		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := flow.ExchangeCodeForTokens(code, "client-1", "https://app.example.com/cb", ""); err == nil {
					atomic.AddInt64(&wins, 1)
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, wins, "exactly one concurrent redemption must succeed")
	}
}

func TestRefreshAccessToken(t *testing.T) {
	const (
		clientID    = "client-1"
		redirectURI = "https://app.example.com/cb"
	)

	setup := func(t *testing.T) (*Flow, *TokenResponse) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)
		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)
		return flow, tokens
	}

	t.Run("mints a new access token, keeps scope and refresh token", func(t *testing.T) {
		flow, tokens := setup(t)

		refreshed, err := flow.RefreshAccessToken(tokens.RefreshToken, clientID)
		require.NoError(t, err)

		assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
		assert.Equal(t, tokens.RefreshToken, refreshed.RefreshToken)
		assert.Equal(t, "mcp:tools", refreshed.Scope)

		// Both access tokens stay valid until they expire on their own.
		record, err := flow.ValidateAccessToken(tokens.AccessToken)
		require.NoError(t, err)
		assert.NotNil(t, record)
		record, err = flow.ValidateAccessToken(refreshed.AccessToken)
		require.NoError(t, err)
		assert.NotNil(t, record)
	})

	t.Run("refresh token is reusable indefinitely", func(t *testing.T) {
		flow, tokens := setup(t)

		seen := map[string]bool{}
		for i := 0; i < 3; i++ {
			refreshed, err := flow.RefreshAccessToken(tokens.RefreshToken, clientID)
			require.NoError(t, err)
			assert.False(t, seen[refreshed.AccessToken], "access tokens must be distinct")
			seen[refreshed.AccessToken] = true
		}
	})

	t.Run("unknown refresh token is invalid_grant", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		_, err := flow.RefreshAccessToken("nonexistent", clientID)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("client_id mismatch is invalid_grant", func(t *testing.T) {
		flow, tokens := setup(t)
		_, err := flow.RefreshAccessToken(tokens.RefreshToken, "other-client")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestValidateAccessToken(t *testing.T) {
	const (
		clientID    = "client-1"
		redirectURI = "https://app.example.com/cb"
	)

	t.Run("valid token returns its record", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)
		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)

		record, err := flow.ValidateAccessToken(tokens.AccessToken)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, clientID, record.ClientID)
		assert.Equal(t, "mcp:tools", record.Scope)
	})

	t.Run("unknown token is nil without error", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		record, err := flow.ValidateAccessToken("nonexistent")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("expired token is invalid and stays invalid", func(t *testing.T) {
		flow, _ := newTestFlow(t)
		code, err := flow.CreateAuthorizationCode(clientID, redirectURI, "mcp:tools", "", "plain")
		require.NoError(t, err)
		tokens, err := flow.ExchangeCodeForTokens(code, clientID, redirectURI, "")
		require.NoError(t, err)

		flow.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

		// No flapping: once past expiry the token never validates again,
		// even though the first check evicted it.
		for i := 0; i < 3; i++ {
			record, err := flow.ValidateAccessToken(tokens.AccessToken)
			require.NoError(t, err)
			assert.Nil(t, record)
		}
	})
}

// Full happy path: register, authorize, exchange, validate, replay.
func TestEndToEndFlow(t *testing.T) {
	flow, _ := newTestFlow(t)

	client, err := flow.RegisterClient(ClientMetadata{
		RedirectURIs: []string{"https://app.example.com/cb"},
		ClientName:   "E2E Client",
	})
	require.NoError(t, err)

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	code, err := flow.CreateAuthorizationCode(
		client.ClientID, "https://app.example.com/cb", "mcp:tools mcp:resources", s256(verifier), "S256")
	require.NoError(t, err)

	tokens, err := flow.ExchangeCodeForTokens(code, client.ClientID, "https://app.example.com/cb", verifier)
	require.NoError(t, err)

	record, err := flow.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, client.ClientID, record.ClientID)

	refreshed, err := flow.RefreshAccessToken(tokens.RefreshToken, client.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)

	_, err = flow.ExchangeCodeForTokens(code, client.ClientID, "https://app.example.com/cb", verifier)
	require.ErrorIs(t, err, ErrInvalidGrant)
}
