package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-access-secret")

func TestSignAccessToken_SetsExpectedClaims(t *testing.T) {
	t.Parallel()

	userID := uuid.NewString()
	now := time.Now()

	token, err := SignAccessToken(userID, "ADMIN", testSecret, now)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims := VerifyAccessToken(token, testSecret)
	require.NotNil(t, claims)
	assert.Equal(t, userID, claims.Subject)
	assert.Equal(t, "ADMIN", claims.Role)
	assert.Equal(t, "access", claims.TokenType)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, now.Add(AccessTokenTTL), claims.ExpiresAt.Time, time.Second)
}

func TestSignAccessToken_EmptySecretFails(t *testing.T) {
	t.Parallel()

	_, err := SignAccessToken(uuid.NewString(), "USER", nil, time.Now())
	require.Error(t, err)
}

func TestVerifyAccessToken_Invalid(t *testing.T) {
	t.Parallel()

	valid, err := SignAccessToken(uuid.NewString(), "USER", testSecret, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty", token: ""},
		{name: "tampered", token: valid + "x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Nil(t, VerifyAccessToken(tt.token, testSecret))
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, VerifyAccessToken(valid, []byte("other-secret")))
	})
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	t.Parallel()

	token, err := SignAccessToken(uuid.NewString(), "USER", testSecret, time.Now().Add(-AccessTokenTTL-time.Minute))
	require.NoError(t, err)
	assert.Nil(t, VerifyAccessToken(token, testSecret))
}

func TestVerifyAccessToken_RejectsWrongTokenType(t *testing.T) {
	t.Parallel()

	// A token signed with the same secret but a different typ must not pass
	// as an access token.
	claims := AccessClaims{
		Role:      "USER",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	assert.Nil(t, VerifyAccessToken(signed, testSecret))
}

func TestNewRefreshValue(t *testing.T) {
	t.Parallel()

	a, err := NewRefreshValue()
	require.NoError(t, err)
	b, err := NewRefreshValue()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 64)
	assert.NotEqual(t, Sha256Hex(a), Sha256Hex(b))
	assert.Equal(t, Sha256Hex(a), Sha256Hex(a))
}

func TestRefreshExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.Equal(t, now.Add(7*24*time.Hour), RefreshExpiry(now, false))
	assert.Equal(t, now.Add(30*24*time.Hour), RefreshExpiry(now, true))
}
