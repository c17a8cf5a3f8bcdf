package oauth

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomToken returns a base64url-encoded random string built from length
// bytes of entropy. Codes, tokens and client secrets use 32 bytes (256 bits).
func RandomToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
