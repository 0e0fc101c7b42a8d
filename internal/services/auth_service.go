package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"school-access-service/internal/metrics"
	"school-access-service/internal/models"
)

// Lockout policy: after this many consecutive failures the identity is
// locked for the lockout duration.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// AuthService turns (email, password) into a verified identity and token
// pair, enforces the brute-force lockout policy, and gates login on the
// tenant's entitlement.
type AuthService struct {
	identities   IdentityStore
	tenants      TenantStore
	tokens       *TokenService
	passwords    *PasswordService
	entitlements *EntitlementService
	totp         *TOTPService
	notifier     NotificationQueue
	events       AuthEvents
	logger       *logrus.Logger

	lockoutThreshold int
	lockoutDuration  time.Duration
	now              func() time.Time
}

func NewAuthService(
	identities IdentityStore,
	tenants TenantStore,
	tokens *TokenService,
	passwords *PasswordService,
	entitlements *EntitlementService,
	logger *logrus.Logger,
) *AuthService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AuthService{
		identities:       identities,
		tenants:          tenants,
		tokens:           tokens,
		passwords:        passwords,
		entitlements:     entitlements,
		logger:           logger,
		lockoutThreshold: DefaultLockoutThreshold,
		lockoutDuration:  DefaultLockoutDuration,
		now:              time.Now,
	}
}

// SetNotificationQueue wires the outbound notification queue (optional).
func (s *AuthService) SetNotificationQueue(q NotificationQueue) { s.notifier = q }

// SetEvents wires the audit event publisher (optional).
func (s *AuthService) SetEvents(e AuthEvents) { s.events = e }

// SetTOTPService wires the two-factor verifier. Without it, identities with
// two-factor enabled log in on password alone.
func (s *AuthService) SetTOTPService(t *TOTPService) { s.totp = t }

// SetLockoutPolicy overrides the default lockout policy.
func (s *AuthService) SetLockoutPolicy(threshold int, duration time.Duration) {
	s.lockoutThreshold = threshold
	s.lockoutDuration = duration
}

// LoginResult is returned on successful authentication. Identity is the
// public projection; the password hash never leaves the service.
type LoginResult struct {
	Identity     *models.Profile `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
}

// Login authenticates an identity by email and password.
//
// Failure taxonomy: an unknown email and a wrong password are
// indistinguishable to the caller (ErrInvalidCredentials); a locked or
// non-active identity fails ErrAccountLocked before the password is even
// checked, so a correct guess during the lockout window learns nothing; a
// valid credential whose tenant fails the entitlement gate is surfaced
// distinctly as ErrTenantInaccessible so the client can prompt for billing
// action. Failed-attempt increments are committed before the error returns.
//
// Identities with two-factor enabled must also present a valid TOTP code;
// a correct password without one fails ErrTwoFactorRequired so the client
// can prompt for it.
func (s *AuthService) Login(ctx context.Context, email, password, totpCode, ip, userAgent string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	ident, err := s.identities.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.emitLoginFailed(ctx, "", email, ip, "unknown email", 0)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	tenantID := ""
	if ident.TenantID != nil {
		tenantID = ident.TenantID.String()
	}

	if ident.IsLocked(s.now()) || !ident.IsActive() {
		s.emitLoginFailed(ctx, tenantID, email, ip, "locked or inactive", ident.FailedLoginAttempts)
		return nil, ErrAccountLocked
	}

	if err := s.passwords.VerifyPassword(password, ident.PasswordHash); err != nil {
		attempts, lockedUntil, recErr := s.identities.RecordLoginFailure(ctx, ident.ID, s.lockoutThreshold, s.lockoutDuration)
		if recErr != nil {
			// The increment must not be lost silently; surface the outage.
			return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, recErr)
		}

		s.emitLoginFailed(ctx, tenantID, email, ip, "wrong password", attempts)

		if lockedUntil != nil {
			metrics.AccountLockouts.Inc()
			if s.events != nil {
				s.events.AccountLocked(ctx, tenantID, ident.ID.String(), email, *lockedUntil)
			}
			s.enqueue(Notification{
				Kind:       NotifyAccountLocked,
				TenantID:   tenantID,
				IdentityID: ident.ID.String(),
				Email:      ident.Email,
				Name:       ident.FullName(),
			})
		}

		return nil, ErrInvalidCredentials
	}

	if s.totp != nil && ident.TwoFactorEnabled {
		if totpCode == "" {
			s.emitLoginFailed(ctx, tenantID, email, ip, "two-factor code missing", ident.FailedLoginAttempts)
			return nil, ErrTwoFactorRequired
		}
		if err := s.totp.ValidateLoginCode(ctx, ident.ID, totpCode); err != nil {
			s.emitLoginFailed(ctx, tenantID, email, ip, "invalid two-factor code", ident.FailedLoginAttempts)
			return nil, err
		}
	}

	// Entitlement gate: everyone but a super admin rides on a tenant
	// subscription.
	if ident.Role != models.RoleSuperAdmin && ident.TenantID != nil {
		tenant, err := s.tenants.GetByID(ctx, *ident.TenantID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrTenantInaccessible
		}
		if err != nil {
			return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
		}
		if !s.entitlements.CanAccess(tenant) {
			s.logger.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"status":    tenant.SubscriptionStatus,
			}).Warn("Login rejected: tenant cannot access system")
			return nil, ErrTenantInaccessible
		}
	}

	if err := s.identities.ResetLoginFailures(ctx, ident.ID); err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	if err := s.identities.SetLastLogin(ctx, ident.ID, s.now()); err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	result, err := s.issueTokenPair(ident)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.LoginSucceeded(ctx, tenantID, ident.ID.String(), email, ip, userAgent)
	}

	return result, nil
}

// Refresh exchanges a valid refresh token for a fresh access+refresh pair
// (rotation). The embedded identity id is re-resolved; a token whose
// identity no longer exists is just an invalid token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, fail(KindInvalidToken, ErrInvalidToken.Message, errors.New("token is not a refresh token"))
	}

	id, err := claims.SubjectID()
	if err != nil {
		return nil, fail(KindInvalidToken, ErrInvalidToken.Message, err)
	}

	ident, err := s.identities.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindInvalidToken, ErrInvalidToken.Message, errors.New("identity no longer exists"))
	}
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	return s.issueTokenPair(ident)
}

func (s *AuthService) issueTokenPair(ident *models.Identity) (*LoginResult, error) {
	tenantID := ""
	if ident.TenantID != nil {
		tenantID = ident.TenantID.String()
	}

	access, err := s.tokens.IssueAccess(ident.ID, ident.Role, tenantID)
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	refresh, err := s.tokens.IssueRefresh(ident.ID)
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	return &LoginResult{
		Identity:     ident.Profile(),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email     string
	Username  *string
	Password  string
	FirstName string
	LastName  string
	Phone     *string
	Role      string
	TenantID  *uuid.UUID
}

// Register provisions a new identity in status pending and queues the
// welcome notification. Email verification later flips it to active.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if _, err := s.identities.GetByEmail(ctx, email); err == nil {
		return nil, fail(KindConflict, "email already registered", nil)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if in.Username != nil {
		taken, err := s.identities.ExistsByUsername(ctx, *in.Username)
		if err != nil {
			return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
		}
		if taken {
			return nil, fail(KindConflict, "username already taken", nil)
		}
	}

	role := in.Role
	if role == "" {
		role = models.RoleStudent
	}
	if !models.IsValidRole(role) || role == models.RoleSuperAdmin {
		return nil, fail(KindValidation, "invalid role", nil)
	}

	// Every registrable role belongs to exactly one school; only platform
	// operators, provisioned out of band, live outside a tenant.
	if in.TenantID == nil {
		return nil, fail(KindValidation, "tenant is required", nil)
	}
	if _, err := s.tenants.GetByID(ctx, *in.TenantID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fail(KindValidation, "unknown tenant", nil)
		}
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if err := s.passwords.ValidatePasswordStrength(in.Password); err != nil {
		return nil, fail(KindValidation, err.Error(), nil)
	}
	hash, err := s.passwords.HashPassword(in.Password)
	if err != nil {
		return nil, fail(KindValidation, err.Error(), nil)
	}

	verifyToken, err := s.passwords.GenerateVerificationToken()
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	ident := &models.Identity{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		Email:             email,
		Username:          in.Username,
		PasswordHash:      hash,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Phone:             in.Phone,
		Role:              role,
		Status:            models.StatusPending,
		VerificationToken: &verifyToken,
	}

	if err := s.identities.Create(ctx, ident); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			// Lost the unique-index race against a concurrent registration.
			return nil, fail(KindConflict, "email or username already registered", err)
		}
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	tenantID := ""
	if ident.TenantID != nil {
		tenantID = ident.TenantID.String()
	}
	s.enqueue(Notification{
		Kind:       NotifyWelcome,
		TenantID:   tenantID,
		IdentityID: ident.ID.String(),
		Email:      ident.Email,
		Name:       ident.FullName(),
		Data:       map[string]string{"verification_token": verifyToken},
	})

	return ident.Profile(), nil
}

// VerifyEmail consumes a verification token, marking the identity verified
// and active.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	ident, err := s.identities.GetByVerificationToken(ctx, token)
	if errors.Is(err, models.ErrNotFound) {
		return fail(KindInvalidToken, ErrInvalidToken.Message, errors.New("unknown verification token"))
	}
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if err := s.identities.MarkEmailVerified(ctx, ident.ID); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if s.events != nil {
		tenantID := ""
		if ident.TenantID != nil {
			tenantID = ident.TenantID.String()
		}
		s.events.EmailVerified(ctx, tenantID, ident.ID.String(), ident.Email)
	}
	return nil
}

// ResendVerification rotates the verification token for an unverified
// identity and queues a fresh welcome notification. Like ForgotPassword, an
// unknown or already-verified email is not an error: the caller cannot probe
// which addresses exist.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	ident, err := s.identities.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	if ident.EmailVerified {
		return nil
	}

	token, err := s.passwords.GenerateVerificationToken()
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	if err := s.identities.SetVerificationToken(ctx, ident.ID, token); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	tenantID := ""
	if ident.TenantID != nil {
		tenantID = ident.TenantID.String()
	}
	s.enqueue(Notification{
		Kind:       NotifyWelcome,
		TenantID:   tenantID,
		IdentityID: ident.ID.String(),
		Email:      ident.Email,
		Name:       ident.FullName(),
		Data:       map[string]string{"verification_token": token},
	})
	return nil
}

// ForgotPassword issues a reset token valid for one hour and queues the
// reset notification. An unknown email is not an error: the caller cannot
// probe which addresses exist.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	ident, err := s.identities.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	token, err := s.passwords.GenerateResetToken()
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	if err := s.identities.SetPasswordReset(ctx, ident.ID, token, s.passwords.ResetTokenExpiry()); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	tenantID := ""
	if ident.TenantID != nil {
		tenantID = ident.TenantID.String()
	}
	if s.events != nil {
		s.events.PasswordResetRequested(ctx, tenantID, ident.ID.String(), ident.Email)
	}
	s.enqueue(Notification{
		Kind:       NotifyPasswordReset,
		TenantID:   tenantID,
		IdentityID: ident.ID.String(),
		Email:      ident.Email,
		Name:       ident.FullName(),
		Data:       map[string]string{"reset_token": token},
	})
	return nil
}

// ResetPassword consumes a reset token and sets the new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ident, err := s.identities.GetByResetToken(ctx, token)
	if errors.Is(err, models.ErrNotFound) {
		return fail(KindInvalidToken, ErrInvalidToken.Message, errors.New("unknown reset token"))
	}
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	if ident.PasswordResetExpiry == nil || s.now().After(*ident.PasswordResetExpiry) {
		return fail(KindInvalidToken, ErrInvalidToken.Message, errors.New("reset token expired"))
	}

	if err := s.passwords.ValidatePasswordStrength(newPassword); err != nil {
		return fail(KindValidation, err.Error(), nil)
	}
	hash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return fail(KindValidation, err.Error(), nil)
	}

	if err := s.identities.UpdatePassword(ctx, ident.ID, hash); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	if err := s.identities.ClearPasswordReset(ctx, ident.ID); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if s.events != nil {
		tenantID := ""
		if ident.TenantID != nil {
			tenantID = ident.TenantID.String()
		}
		s.events.PasswordChanged(ctx, tenantID, ident.ID.String(), ident.Email)
	}
	return nil
}

// ChangePassword rotates the password for an authenticated identity after
// re-verifying the current one.
func (s *AuthService) ChangePassword(ctx context.Context, identityID uuid.UUID, current, next string) error {
	ident, err := s.identities.GetByID(ctx, identityID)
	if errors.Is(err, models.ErrNotFound) {
		return ErrUnauthenticated
	}
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if err := s.passwords.VerifyPassword(current, ident.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.passwords.ValidatePasswordStrength(next); err != nil {
		return fail(KindValidation, err.Error(), nil)
	}
	hash, err := s.passwords.HashPassword(next)
	if err != nil {
		return fail(KindValidation, err.Error(), nil)
	}
	if err := s.identities.UpdatePassword(ctx, ident.ID, hash); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if s.events != nil {
		tenantID := ""
		if ident.TenantID != nil {
			tenantID = ident.TenantID.String()
		}
		s.events.PasswordChanged(ctx, tenantID, ident.ID.String(), ident.Email)
	}
	return nil
}

// Unlock clears the lockout state on an identity (admin action).
func (s *AuthService) Unlock(ctx context.Context, identityID uuid.UUID, adminID uuid.UUID) error {
	ident, err := s.identities.GetByID(ctx, identityID)
	if errors.Is(err, models.ErrNotFound) {
		return fail(KindNotFound, "identity not found", nil)
	}
	if err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if err := s.identities.ResetLoginFailures(ctx, ident.ID); err != nil {
		return fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	if s.events != nil {
		tenantID := ""
		if ident.TenantID != nil {
			tenantID = ident.TenantID.String()
		}
		s.events.AccountUnlocked(ctx, tenantID, ident.ID.String(), ident.Email, adminID.String())
	}
	return nil
}

// GetIdentity returns the full identity record; callers presenting it to
// the outside world use Profile().
func (s *AuthService) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	ident, err := s.identities.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindNotFound, "identity not found", nil)
	}
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	return ident, nil
}

// ListIdentities lists a tenant's identities with pagination.
func (s *AuthService) ListIdentities(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Identity, error) {
	idents, err := s.identities.List(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	return idents, nil
}

// UpdateIdentity applies a typed patch field-by-field. Deactivation is a
// status transition; identities are never hard-deleted.
func (s *AuthService) UpdateIdentity(ctx context.Context, id uuid.UUID, patch models.IdentityPatch) (*models.Profile, error) {
	ident, err := s.identities.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fail(KindNotFound, "identity not found", nil)
	}
	if err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}

	// super_admin is never grantable through the patch surface; otherwise a
	// tenant admin could promote an account past the entitlement gate and
	// the platform-only routes. Platform operators are provisioned out of
	// band.
	if patch.Role != nil && (!models.IsValidRole(*patch.Role) || *patch.Role == models.RoleSuperAdmin) {
		return nil, fail(KindValidation, "invalid role", nil)
	}
	if patch.Status != nil {
		switch *patch.Status {
		case models.StatusActive, models.StatusInactive, models.StatusSuspended, models.StatusPending:
		default:
			return nil, fail(KindValidation, "invalid status", nil)
		}
	}

	patch.Apply(ident)
	if err := s.identities.Update(ctx, ident); err != nil {
		return nil, fail(KindServiceUnavailable, ErrServiceUnavailable.Message, err)
	}
	return ident.Profile(), nil
}

func (s *AuthService) enqueue(n Notification) {
	if s.notifier != nil {
		s.notifier.Enqueue(n)
	}
}

func (s *AuthService) emitLoginFailed(ctx context.Context, tenantID, email, ip, reason string, attempts int) {
	if s.events != nil {
		s.events.LoginFailed(ctx, tenantID, email, ip, reason, attempts)
	}
}
