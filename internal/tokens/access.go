package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL is fixed: clients refresh via the refresh endpoint.
const AccessTokenTTL = 15 * time.Minute

const typeAccess = "access"

type AccessClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// SignAccessToken signs a short-lived stateless token carrying identity and
// role. A signing failure signals misconfiguration and is returned as-is.
func SignAccessToken(userID, role string, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("access token secret is not configured")
	}
	claims := AccessClaims{
		Role:      role,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

// VerifyAccessToken returns the claims for a valid access token, or nil.
// Tokens without typ "access" are rejected to rule out token-type confusion.
// Verification never returns an error to the caller: invalid is invalid.
func VerifyAccessToken(tokenStr string, secret []byte) *AccessClaims {
	var claims AccessClaims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil
	}
	if claims.TokenType != typeAccess {
		return nil
	}
	return &claims
}
