package backend

import (
	"context"
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// SessionClaims is the subset of the platform's JWT the client reads.
type SessionClaims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

// TokenIdentity implements Identity by decoding the platform's bearer
// token once and caching the claims for the session.
type TokenIdentity struct {
	user UserInfo
}

// NewTokenIdentity parses and verifies the session token. Signature and
// expiry are checked; everything else is the platform's policy.
func NewTokenIdentity(tokenString, secret string) (*TokenIdentity, error) {
	claims, err := ParseSessionToken(tokenString, secret)
	if err != nil {
		return nil, err
	}
	return &TokenIdentity{
		user: UserInfo{ID: claims.UserID, DisplayName: claims.UserName},
	}, nil
}

func (i *TokenIdentity) Current(ctx context.Context) (UserInfo, error) {
	return i.user, nil
}

// ParseSessionToken verifies an HS256 session token and returns its
// claims.
func ParseSessionToken(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
