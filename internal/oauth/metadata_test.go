package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizationServerMetadata(t *testing.T) {
	cfg := Config{ServerURL: "https://mcp.example.com"}
	doc := cfg.AuthorizationServerMetadata()

	assert.Equal(t, "https://mcp.example.com", doc.Issuer)
	assert.Equal(t, "https://mcp.example.com/oauth/authorize", doc.AuthorizationEndpoint)
	assert.Equal(t, "https://mcp.example.com/oauth/token", doc.TokenEndpoint)
	assert.Equal(t, "https://mcp.example.com/oauth/register", doc.RegistrationEndpoint)
	assert.Equal(t, "https://mcp.example.com/.well-known/jwks.json", doc.JWKSURI)
	assert.Equal(t, []string{"code"}, doc.ResponseTypesSupported)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, doc.GrantTypesSupported)
	assert.Equal(t, []string{"S256", "plain"}, doc.CodeChallengeMethodsSupported)
	assert.Contains(t, doc.TokenEndpointAuthMethodsSupported, "none")
}

func TestProtectedResourceMetadata(t *testing.T) {
	cfg := Config{ServerURL: "https://mcp.example.com"}
	doc := cfg.ProtectedResourceMetadata()

	assert.Equal(t, "https://mcp.example.com", doc.Resource)
	assert.Equal(t, []string{"https://mcp.example.com"}, doc.AuthorizationServers)
	assert.Equal(t, []string{"header"}, doc.BearerMethods)
}

func TestEmptyJWKS(t *testing.T) {
	doc := EmptyJWKS()
	assert.NotNil(t, doc.Keys)
	assert.Empty(t, doc.Keys)
}
