package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	ps := NewPasswordService()

	hash, err := ps.HashPassword("Password123")
	require.NoError(t, err)
	assert.NotEqual(t, "Password123", hash)

	assert.NoError(t, ps.VerifyPassword("Password123", hash))
	assert.Error(t, ps.VerifyPassword("password123", hash))
	assert.Error(t, ps.VerifyPassword("", hash))
}

func TestHashPasswordRejectsShort(t *testing.T) {
	ps := NewPasswordService()
	_, err := ps.HashPassword("Ab1")
	assert.Error(t, err)
}

func TestValidatePasswordStrength(t *testing.T) {
	ps := NewPasswordService()

	assert.NoError(t, ps.ValidatePasswordStrength("Password123"))

	tests := []struct {
		name     string
		password string
	}{
		{"too short", "Pw1"},
		{"no uppercase", "password123"},
		{"no lowercase", "PASSWORD123"},
		{"no number", "PasswordOnly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ps.ValidatePasswordStrength(tt.password))
		})
	}
}

func TestGenerateSecureTokenUnique(t *testing.T) {
	ps := NewPasswordService()

	a, err := ps.GenerateResetToken()
	require.NoError(t, err)
	b, err := ps.GenerateResetToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
