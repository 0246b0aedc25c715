package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := NewJWTManager("secret", 1).GenerateToken("user-1", "alice")
	require.NoError(t, err)

	_, err = NewJWTManager("other", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	tok, err := NewJWTManager("secret", -1).GenerateToken("user-1", "alice")
	require.NoError(t, err)

	_, err = NewJWTManager("secret", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyRequiresUserID(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("", "anonymous")
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	assert.Error(t, err)
}
