package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jvanveen/groendus-hass/internal/config"
)

// Credentials is the portal login pair. All credential access goes through
// this type so a platform secret store can later replace the plain config
// fields without touching the authenticator.
type Credentials struct {
	Email    string
	Password string
}

// IsZero reports whether no credentials are configured.
func (c Credentials) IsZero() bool {
	return c.Email == "" && c.Password == ""
}

// TokenSet is the Cognito token triple plus its computed expiry. A TokenSet
// is replaced wholesale on login or refresh, never mutated in place.
type TokenSet struct {
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidAt reports whether the token set can still be used at the given time,
// applying the configured safety margin before the hard expiry.
func (t *TokenSet) ValidAt(now time.Time) bool {
	if t == nil || t.IDToken == "" || t.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-config.TokenSafetyMargin))
}

// tokenExpiry determines when the given ID token expires. The JWT exp claim
// is authoritative when it parses; otherwise we fall back to the ExpiresIn
// the token endpoint reported.
func tokenExpiry(idToken string, expiresIn int, now time.Time) time.Time {
	if idToken != "" {
		claims := jwt.MapClaims{}
		// Signature verification is Cognito's job, we only need the claim.
		if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !exp.IsZero() {
				return exp.Time
			}
		}
	}
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}
