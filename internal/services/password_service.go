package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost        = 12
	minPasswordLength = 8
	tokenBytes        = 32
	resetTokenTTL     = time.Hour
)

// PasswordService owns credential hashing, the password policy, and the
// random tokens used for reset and verification links.
type PasswordService struct{}

func NewPasswordService() *PasswordService {
	return &PasswordService{}
}

// HashPassword bcrypt-hashes the password after a length check.
func (ps *PasswordService) HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters long", minPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword compares a candidate password against a stored hash.
func (ps *PasswordService) VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidatePasswordStrength enforces the registration policy: minimum length
// plus at least one upper-case letter, one lower-case letter and one digit.
func (ps *PasswordService) ValidatePasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", minPasswordLength)
	}

	var upper, lower, digit bool
	for _, r := range password {
		upper = upper || unicode.IsUpper(r)
		lower = lower || unicode.IsLower(r)
		digit = digit || unicode.IsDigit(r)
	}
	switch {
	case !upper:
		return errors.New("password must contain at least one uppercase letter")
	case !lower:
		return errors.New("password must contain at least one lowercase letter")
	case !digit:
		return errors.New("password must contain at least one number")
	}
	return nil
}

// GenerateSecureToken returns length random bytes hex-encoded.
func (ps *PasswordService) GenerateSecureToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateResetToken mints a single-use password reset token.
func (ps *PasswordService) GenerateResetToken() (string, error) {
	return ps.GenerateSecureToken(tokenBytes)
}

// GenerateVerificationToken mints an email verification token.
func (ps *PasswordService) GenerateVerificationToken() (string, error) {
	return ps.GenerateSecureToken(tokenBytes)
}

// ResetTokenExpiry returns the expiry instant for a reset token issued now.
func (ps *PasswordService) ResetTokenExpiry() time.Time {
	return time.Now().Add(resetTokenTTL)
}
