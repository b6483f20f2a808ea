package backend

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signSessionToken(t *testing.T, secret string, claims SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseSessionToken(t *testing.T) {
	tokenString := signSessionToken(t, testSecret, SessionClaims{
		UserID:   "u1",
		UserName: "Ada",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ParseSessionToken(tokenString, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Ada", claims.UserName)
}

func TestParseSessionToken_WrongSecret(t *testing.T) {
	tokenString := signSessionToken(t, "other-secret", SessionClaims{UserID: "u1"})

	_, err := ParseSessionToken(tokenString, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseSessionToken_Expired(t *testing.T) {
	tokenString := signSessionToken(t, testSecret, SessionClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := ParseSessionToken(tokenString, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseSessionToken_MissingUserID(t *testing.T) {
	tokenString := signSessionToken(t, testSecret, SessionClaims{UserName: "nobody"})

	_, err := ParseSessionToken(tokenString, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIdentity(t *testing.T) {
	tokenString := signSessionToken(t, testSecret, SessionClaims{UserID: "u1", UserName: "Ada"})

	identity, err := NewTokenIdentity(tokenString, testSecret)
	require.NoError(t, err)

	user, err := identity.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Ada", user.DisplayName)

	_, err = NewTokenIdentity("garbage", testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
