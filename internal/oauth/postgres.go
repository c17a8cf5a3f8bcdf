package oauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// PostgresStore is an alternative Store backend for multi-instance
// deployments: clients, codes and refresh tokens live in Postgres; access
// tokens go to Redis with a native TTL when REDIS_URL is set, otherwise to
// Postgres as well. Protocol logic in Flow is identical for both backends.
type PostgresStore struct {
	db    *sql.DB
	redis *redis.Client
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStoreFromEnv initializes the store from OAUTH_DATABASE_URL (or
// DATABASE_URL) and an optional REDIS_URL.
func NewPostgresStoreFromEnv() (*PostgresStore, error) {
	connString := os.Getenv("OAUTH_DATABASE_URL")
	if connString == "" {
		connString = os.Getenv("DATABASE_URL")
	}
	if connString == "" {
		return nil, fmt.Errorf("OAUTH_DATABASE_URL or DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(parseEnvInt("OAUTH_DB_MAX_OPEN_CONNS", 5))
	db.SetMaxIdleConns(parseEnvInt("OAUTH_DB_MAX_IDLE_CONNS", 2))
	db.SetConnMaxLifetime(parseDurationEnv("OAUTH_DB_CONN_MAX_LIFETIME", 5*time.Minute))

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		store.redis = redis.NewClient(opts)
		if err := store.redis.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	return store, nil
}

// Close closes connections.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies database and Redis connectivity.
func (s *PostgresStore) Ping() error {
	if err := s.db.Ping(); err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.Ping(context.Background()).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SaveClient(client *RegisteredClient) error {
	query := `
		INSERT INTO oauth_clients
			(client_id, client_secret, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method, client_name, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.Exec(
		query,
		client.ClientID,
		client.ClientSecret,
		pq.Array(client.RedirectURIs),
		pq.Array(client.GrantTypes),
		pq.Array(client.ResponseTypes),
		client.Scope,
		client.TokenEndpointAuthMethod,
		client.ClientName,
		client.ClientIDIssuedAt,
	)
	return err
}

func (s *PostgresStore) GetClient(clientID string) (*RegisteredClient, error) {
	query := `
		SELECT client_id, client_secret, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method, client_name, issued_at
		FROM oauth_clients
		WHERE client_id = $1
	`
	var client RegisteredClient
	var redirectURIs, grantTypes, responseTypes []string
	err := s.db.QueryRow(query, clientID).Scan(
		&client.ClientID,
		&client.ClientSecret,
		pq.Array(&redirectURIs),
		pq.Array(&grantTypes),
		pq.Array(&responseTypes),
		&client.Scope,
		&client.TokenEndpointAuthMethod,
		&client.ClientName,
		&client.ClientIDIssuedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	client.RedirectURIs = redirectURIs
	client.GrantTypes = grantTypes
	client.ResponseTypes = responseTypes
	return &client, nil
}

func (s *PostgresStore) SaveAuthorizationCode(code *AuthorizationCode) error {
	query := `
		INSERT INTO oauth_auth_codes
			(code, client_id, redirect_uri, scope, code_challenge, code_challenge_method, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := s.db.Exec(
		query,
		code.Code,
		code.ClientID,
		code.RedirectURI,
		code.Scope,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.CreatedAt,
		code.ExpiresAt,
	)
	return err
}

// RedeemAuthorizationCode locks the code row, runs validate, and deletes the
// row only on success or expiry. The row lock serializes concurrent
// redemptions across instances; the transaction makes delete-and-return
// atomic so a crash mid-validation never issues tokens for an undeleted code.
func (s *PostgresStore) RedeemAuthorizationCode(code string, validate func(*AuthorizationCode) error) (*AuthorizationCode, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var record AuthorizationCode
	query := `
		SELECT code, client_id, redirect_uri, scope, code_challenge, code_challenge_method, created_at, expires_at
		FROM oauth_auth_codes
		WHERE code = $1
		FOR UPDATE
	`
	err = tx.QueryRow(query, code).Scan(
		&record.Code,
		&record.ClientID,
		&record.RedirectURI,
		&record.Scope,
		&record.CodeChallenge,
		&record.CodeChallengeMethod,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if validationErr := validate(&record); validationErr != nil {
		if errors.Is(validationErr, ErrCodeExpired) {
			if _, err := tx.Exec(`DELETE FROM oauth_auth_codes WHERE code = $1`, code); err == nil {
				_ = tx.Commit()
			}
		}
		return nil, validationErr
	}

	if _, err := tx.Exec(`DELETE FROM oauth_auth_codes WHERE code = $1`, code); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PostgresStore) SaveAccessToken(token *AccessToken) error {
	if s.redis != nil {
		payload, err := json.Marshal(token)
		if err != nil {
			return err
		}
		key := accessTokenKey(token.Token)
		return s.redis.Set(context.Background(), key, payload, time.Until(token.ExpiresAt)).Err()
	}

	query := `
		INSERT INTO oauth_access_tokens (token, client_id, scope, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
	`
	_, err := s.db.Exec(query, token.Token, token.ClientID, token.Scope, token.CreatedAt, token.ExpiresAt)
	return err
}

func (s *PostgresStore) GetAccessToken(token string) (*AccessToken, error) {
	if s.redis != nil {
		val, err := s.redis.Get(context.Background(), accessTokenKey(token)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		var record AccessToken
		if err := json.Unmarshal([]byte(val), &record); err != nil {
			return nil, err
		}
		return &record, nil
	}

	query := `
		SELECT token, client_id, scope, created_at, expires_at
		FROM oauth_access_tokens
		WHERE token = $1
	`
	var record AccessToken
	err := s.db.QueryRow(query, token).Scan(
		&record.Token,
		&record.ClientID,
		&record.Scope,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PostgresStore) DeleteAccessToken(token string) error {
	if s.redis != nil {
		return s.redis.Del(context.Background(), accessTokenKey(token)).Err()
	}
	_, err := s.db.Exec(`DELETE FROM oauth_access_tokens WHERE token = $1`, token)
	return err
}

func (s *PostgresStore) SaveRefreshToken(token *RefreshToken) error {
	query := `
		INSERT INTO oauth_refresh_tokens (token, client_id, scope, created_at)
		VALUES ($1,$2,$3,$4)
	`
	_, err := s.db.Exec(query, token.Token, token.ClientID, token.Scope, token.CreatedAt)
	return err
}

func (s *PostgresStore) GetRefreshToken(token string) (*RefreshToken, error) {
	query := `
		SELECT token, client_id, scope, created_at
		FROM oauth_refresh_tokens
		WHERE token = $1
	`
	var record RefreshToken
	err := s.db.QueryRow(query, token).Scan(
		&record.Token,
		&record.ClientID,
		&record.Scope,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS oauth_clients (
		client_id VARCHAR(255) PRIMARY KEY,
		client_secret TEXT NOT NULL,
		redirect_uris TEXT[] NOT NULL,
		grant_types TEXT[] NOT NULL,
		response_types TEXT[] NOT NULL,
		scope TEXT,
		token_endpoint_auth_method VARCHAR(50) NOT NULL,
		client_name TEXT,
		issued_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_auth_codes (
		code TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		redirect_uri TEXT NOT NULL,
		scope TEXT,
		code_challenge TEXT NOT NULL DEFAULT '',
		code_challenge_method TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_access_tokens (
		token TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		scope TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
		token TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		scope TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_oauth_auth_codes_expires ON oauth_auth_codes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_oauth_access_tokens_expires ON oauth_access_tokens(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func accessTokenKey(token string) string {
	return "oauth:at:" + token
}

func parseEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
