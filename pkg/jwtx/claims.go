// Package jwtx reads claims from bearer tokens issued by the course service.
//
// The client never holds the issuer's signing keys, so tokens are parsed
// without verification and the result is advisory only: it is used to report
// when a stored credential is likely to be rejected, never to trust it.
package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT reports a token that is not a compact JWS.
var ErrNotJWT = errors.New("jwtx: token is not a jwt")

// Claims are the course-service access token claims the client cares about.
type Claims struct {
	jwt.RegisteredClaims

	// UserName is the student or staff number the token was issued to
	UserName string `json:"user_name,omitempty"`

	// Scope as issued by the authorize endpoint ("all")
	Scope []string `json:"scope,omitempty"`
}

// Peek decodes the token's claims without verifying its signature.
func Peek(token string) (*Claims, error) {
	claims := &Claims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrNotJWT
		}
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}

	return claims, nil
}

// PeekExpiry returns the exp claim of token, or the zero time when the token
// is not a JWT or carries no expiry.
func PeekExpiry(token string) time.Time {
	claims, err := Peek(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Expired reports whether exp is set and not after now.
func Expired(exp, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}
