package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthServicePlainKey(t *testing.T) {
	auth := NewAuthService(" secret ", "")
	assert.True(t, auth.Enabled())
	assert.NoError(t, auth.Verify("secret"))
	assert.True(t, errors.Is(auth.Verify("wrong"), ErrInvalidAPIKey))
	assert.True(t, errors.Is(auth.Verify(""), ErrInvalidAPIKey))
}

func TestAuthServiceHash(t *testing.T) {
	hash, err := HashAPIKey("secret")
	require.NoError(t, err)

	auth := NewAuthService("ignored", hash)
	assert.NoError(t, auth.Verify("secret"))
	assert.True(t, errors.Is(auth.Verify("ignored"), ErrInvalidAPIKey))
}

func TestAuthServiceDisabledRefusesAll(t *testing.T) {
	auth := NewAuthService("", "")
	assert.False(t, auth.Enabled())
	assert.True(t, errors.Is(auth.Verify("anything"), ErrInvalidAPIKey))

	_, err := HashAPIKey("  ")
	require.Error(t, err)
}
