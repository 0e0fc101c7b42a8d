package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
)

// TOTPService manages time-based one-time password enrollment for identities
// that opt into two-factor login.
type TOTPService struct {
	identities IdentityStore
	issuer     string
}

func NewTOTPService(identities IdentityStore, issuer string) *TOTPService {
	if issuer == "" {
		issuer = "School Access"
	}
	return &TOTPService{identities: identities, issuer: issuer}
}

// Enrollment carries the material a client needs to configure an
// authenticator app. The secret is not persisted until ConfirmEnrollment
// succeeds with a valid code.
type Enrollment struct {
	Secret       string `json:"secret"`
	ProvisionURL string `json:"provision_url"`
}

// BeginEnrollment generates a fresh TOTP secret for the identity. The caller
// must hold the secret client-side and confirm it with a live code before it
// takes effect.
func (ts *TOTPService) BeginEnrollment(ctx context.Context, identityID uuid.UUID) (*Enrollment, error) {
	identity, err := ts.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fail(KindNotFound, "account not found", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      ts.issuer,
		AccountName: identity.Email,
	})
	if err != nil {
		return nil, fail(KindServiceUnavailable, "could not generate 2fa secret", err)
	}

	return &Enrollment{Secret: key.Secret(), ProvisionURL: key.URL()}, nil
}

// ConfirmEnrollment verifies a live code against the pending secret and, on
// success, persists the secret and switches two-factor on for the identity.
func (ts *TOTPService) ConfirmEnrollment(ctx context.Context, identityID uuid.UUID, secret, code string) error {
	if !ts.validate(secret, code) {
		return fail(KindValidation, "invalid verification code", nil)
	}
	if err := ts.identities.SetTwoFactor(ctx, identityID, true, secret); err != nil {
		return fail(KindServiceUnavailable, "could not enable two-factor", err)
	}
	return nil
}

// Disable switches two-factor off and discards the stored secret.
func (ts *TOTPService) Disable(ctx context.Context, identityID uuid.UUID) error {
	if err := ts.identities.SetTwoFactor(ctx, identityID, false, ""); err != nil {
		return fail(KindServiceUnavailable, "could not disable two-factor", err)
	}
	return nil
}

// ValidateLoginCode checks a code supplied at login time against the
// identity's stored secret.
func (ts *TOTPService) ValidateLoginCode(ctx context.Context, identityID uuid.UUID, code string) error {
	identity, err := ts.identities.GetByID(ctx, identityID)
	if err != nil {
		return fail(KindNotFound, "account not found", err)
	}
	if !identity.TwoFactorEnabled || identity.TOTPSecret == "" {
		return fail(KindValidation, "two-factor is not enabled", nil)
	}
	if !ts.validate(identity.TOTPSecret, code) {
		return fail(KindInvalidCredentials, "invalid verification code", nil)
	}
	return nil
}

func (ts *TOTPService) validate(secret, code string) bool {
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return totp.Validate(code, secret)
}
