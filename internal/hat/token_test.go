package hat

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-the-hat-key"))
	require.NoError(t, err)
	return token
}

func TestParseTokenReadsIssuerAndExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	token := signedToken(t, jwt.RegisteredClaims{
		Issuer:    "Alice.HubOfAllThings.net",
		Subject:   "1-abc",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	info, err := ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, "alice.hubofallthings.net", info.Domain)
	require.Equal(t, "1-abc", info.Subject)
	require.NotNil(t, info.ExpiresAt)
	require.True(t, info.ExpiresAt.Equal(exp))
	require.False(t, info.Expired(exp.Add(-time.Second)))
	require.True(t, info.Expired(exp))
}

func TestParseTokenAcceptsExpiredTokens(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{
		Issuer:    "bob.hat.direct",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	info, err := ParseToken(token)
	require.NoError(t, err)
	require.True(t, info.Expired(time.Now()))
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("")
	require.Error(t, err)

	_, err = ParseToken("not-a-jwt")
	require.Error(t, err)
}

func TestTokenInfoWithoutExpiryNeverExpires(t *testing.T) {
	require.False(t, TokenInfo{}.Expired(time.Now()))
}
