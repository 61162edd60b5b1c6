package stomp

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource hands out the bearer credential for CONNECT.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context) (string, error)
}

// expiresWithin reads exp without verifying the signature; the broker
// verifies. Opaque or exp-less tokens are treated as fresh.
func expiresWithin(token string, now time.Time, skew time.Duration) bool {
	if token == "" {
		return true
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Sub(now) < skew
}
