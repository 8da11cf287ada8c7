package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)
	require.True(t, auth.Enabled())

	token, err := auth.GenerateToken("user-1", "ui")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", string(claims.ParticipantID))
	assert.Equal(t, "ui", claims.Client)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	other, err := NewAuthService("other", time.Hour).GenerateToken("user-1", "ui")
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewAuthService("secret", -time.Minute).GenerateToken("user-1", "ui")
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Disabled(t *testing.T) {
	auth := NewAuthService("", time.Hour)
	assert.False(t, auth.Enabled())

	_, err := auth.GenerateToken("user-1", "ui")
	assert.Error(t, err)
}
