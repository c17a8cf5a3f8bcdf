package oauth

import (
	"os"
	"strings"
	"time"
)

const (
	defaultAccessTokenTTL = time.Hour
	defaultAuthCodeTTL    = 10 * time.Minute
	defaultServerHost     = "localhost:8080"
)

// Config holds OAuth server settings. The server URL doubles as the RFC 8414
// issuer and as the base for every advertised endpoint.
type Config struct {
	ServerURL      string
	AccessTokenTTL time.Duration
	AuthCodeTTL    time.Duration

	// StaticToken is an optional pre-shared bearer credential accepted by
	// the transport gate alongside issued access tokens.
	StaticToken string
}

// LoadConfigFromEnv loads OAuth config from environment variables. Missing
// values fall back to defaults; there is no failure path.
func LoadConfigFromEnv() Config {
	serverURL := strings.TrimSpace(os.Getenv("MCP_SERVER_URL"))
	if serverURL == "" {
		host := strings.TrimSpace(os.Getenv("MCP_SERVER_HOST"))
		if host == "" {
			host = defaultServerHost
		}
		serverURL = "https://" + host
	}

	return Config{
		ServerURL:      strings.TrimRight(serverURL, "/"),
		AccessTokenTTL: parseDurationEnv("OAUTH_ACCESS_TOKEN_TTL", defaultAccessTokenTTL),
		AuthCodeTTL:    parseDurationEnv("OAUTH_AUTH_CODE_TTL", defaultAuthCodeTTL),
		StaticToken:    os.Getenv("MCP_AUTH_TOKEN"),
	}
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if dur, err := time.ParseDuration(val); err == nil {
			return dur
		}
	}
	return fallback
}
