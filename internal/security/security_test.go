package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPassword_HashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPassword_HashesAreSalted(t *testing.T) {
	a, err := HashPassword("same password")
	require.NoError(t, err)
	b, err := HashPassword("same password")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestPassword_MalformedHash(t *testing.T) {
	_, err := VerifyPassword("anything", []byte("not-a-hash"))
	require.Error(t, err)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("secret", "user_1", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAccessToken(token, "secret")
	require.NoError(t, err)
	require.Equal(t, "user_1", claims.UserID)
	require.Equal(t, "admin", claims.Role)
}

func TestAccessToken_WrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateAccessToken("secret", "user_1", "user", time.Hour)
	require.NoError(t, err)
	_, err = ParseAccessToken(token, "other-secret")
	require.Error(t, err)

	expired, err := GenerateAccessToken("secret", "user_1", "user", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken(expired, "secret")
	require.Error(t, err)
}
