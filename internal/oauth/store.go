package oauth

import "errors"

// ErrNotFound is returned by store lookups when no record exists for the
// given key. Flow logic maps it to an invalid_grant failure.
var ErrNotFound = errors.New("oauth: not found")

// Store owns the four OAuth record collections: registered clients,
// authorization codes, access tokens and refresh tokens. All implementations
// must be safe for concurrent use from multiple in-flight HTTP requests.
//
// RedeemAuthorizationCode is the single critical section of the protocol:
// it looks up the code, runs validate on the record while still holding it
// exclusively, and deletes the code only when validate succeeds (or reports
// expiry via ErrCodeExpired). This makes redemption linearizable: the first
// successful redeemer wins and every later attempt observes ErrNotFound.
type Store interface {
	SaveClient(client *RegisteredClient) error
	GetClient(clientID string) (*RegisteredClient, error)

	SaveAuthorizationCode(code *AuthorizationCode) error
	RedeemAuthorizationCode(code string, validate func(*AuthorizationCode) error) (*AuthorizationCode, error)

	SaveAccessToken(token *AccessToken) error
	GetAccessToken(token string) (*AccessToken, error)
	DeleteAccessToken(token string) error

	SaveRefreshToken(token *RefreshToken) error
	GetRefreshToken(token string) (*RefreshToken, error)

	Ping() error
	Close() error
}
