package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

const (
	refreshValueBytes = 48

	RefreshTokenTTL         = 7 * 24 * time.Hour
	RefreshTokenTTLRemember = 30 * 24 * time.Hour
)

// NewRefreshValue generates the opaque refresh token handed to the client.
// It is a capability reference, not a signed structure: validity is decided
// by the server-side row it maps to.
func NewRefreshValue() (string, error) {
	raw := make([]byte, refreshValueBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Sha256Hex is the storage form of a refresh token value: the database never
// holds the bearer value itself.
func Sha256Hex(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func RefreshExpiry(now time.Time, rememberMe bool) time.Time {
	if rememberMe {
		return now.Add(RefreshTokenTTLRemember)
	}
	return now.Add(RefreshTokenTTL)
}
