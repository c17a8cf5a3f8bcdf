package oauth

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ServiceDocumentation              string   `json:"service_documentation"`
}

// ProtectedResourceMetadata describes the MCP endpoint as an OAuth
// protected resource.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported"`
	BearerMethods        []string `json:"bearer_methods_supported"`
}

// JWKS is the JSON Web Key Set document. Tokens here are opaque, not
// JWT-signed, so the key set is always empty.
type JWKS struct {
	Keys []any `json:"keys"`
}

// AuthorizationServerMetadata builds the RFC 8414 document from the
// configured server URL. Pure function, no failure modes.
func (c Config) AuthorizationServerMetadata() AuthorizationServerMetadata {
	return AuthorizationServerMetadata{
		Issuer:                 c.ServerURL,
		AuthorizationEndpoint:  c.ServerURL + "/oauth/authorize",
		TokenEndpoint:          c.ServerURL + "/oauth/token",
		RegistrationEndpoint:   c.ServerURL + "/oauth/register",
		JWKSURI:                c.ServerURL + "/.well-known/jwks.json",
		ScopesSupported:        []string{"openid", "profile", "mcp:tools", "mcp:resources"},
		ResponseTypesSupported: []string{"code"},
		ResponseModesSupported: []string{"query"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic", "client_secret_post", "none",
		},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
		ServiceDocumentation:          c.ServerURL + "/docs",
	}
}

// ProtectedResourceMetadata builds the protected-resource document.
func (c Config) ProtectedResourceMetadata() ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:             c.ServerURL,
		AuthorizationServers: []string{c.ServerURL},
		ScopesSupported:      []string{"mcp:tools", "mcp:resources"},
		BearerMethods:        []string{"header"},
	}
}

// EmptyJWKS returns the JWKS document.
func EmptyJWKS() JWKS {
	return JWKS{Keys: []any{}}
}
