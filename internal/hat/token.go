package hat

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what the client can learn from a HAT access token without verifying it.
type TokenInfo struct {
	Domain    string
	Subject   string
	ExpiresAt *time.Time
}

// Expired reports whether the token's exp claim is at or before now.
func (t TokenInfo) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// ParseToken reads the issuer (the HAT domain) and expiry of a HAT token.
// The signature is not checked; the HAT is the only party that verifies it.
func ParseToken(token string) (TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{}, fmt.Errorf("hat: token is empty")
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("hat: parse token: %w", err)
	}

	info := TokenInfo{
		Domain:  strings.ToLower(strings.TrimSpace(claims.Issuer)),
		Subject: claims.Subject,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time.UTC()
		info.ExpiresAt = &exp
	}
	return info, nil
}
