package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	m, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.IssueToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "typelens", claims.Issuer)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m, err := NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := m.IssueToken()
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsForeignKey(t *testing.T) {
	issuer, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken()
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err, "token signed by a different key pair must not validate")
}

func TestValidateRejectsGarbage(t *testing.T) {
	m, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := m.ValidateToken(tok)
		assert.Error(t, err, "token %q", tok)
	}
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := HashAPIKey("super-secret")
	require.NoError(t, err)
	assert.NotContains(t, hash, "super-secret")

	ok, err := VerifyAPIKey("super-secret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashProducesUniqueSalts(t *testing.T) {
	h1, err := HashAPIKey("k")
	require.NoError(t, err)
	h2, err := HashAPIKey("k")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	_, err := VerifyAPIKey("k", "no-dollar-sign")
	assert.Error(t, err)

	_, err = VerifyAPIKey("k", "!!!$???")
	assert.Error(t, err)
}
