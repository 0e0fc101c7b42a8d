package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"school-access-service/internal/models"
)

// IdentityStore is the credential store consumed by the authenticator and
// the request pipeline. Implementations return models.ErrNotFound when no
// row matches; any other error is treated as an infrastructure failure.
//
// Declared here, next to the consumer, so the sql implementation and the
// in-memory test doubles can satisfy it without import cycles.
type IdentityStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	Create(ctx context.Context, identity *models.Identity) error
	Update(ctx context.Context, identity *models.Identity) error
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Identity, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// RecordLoginFailure atomically increments the failed-login counter and,
	// when the counter reaches threshold, sets the lockout window. The write
	// must be durable before the call returns; concurrent attempts against
	// the same identity serialize on the row.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration) (attempts int, lockedUntil *time.Time, err error)
	ResetLoginFailures(ctx context.Context, id uuid.UUID) error
	SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetPasswordReset(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	GetByResetToken(ctx context.Context, token string) (*models.Identity, error)
	ClearPasswordReset(ctx context.Context, id uuid.UUID) error

	SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error
	GetByVerificationToken(ctx context.Context, token string) (*models.Identity, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error

	SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool, secret string) error
}

// TenantStore is the tenant registry consumed by the entitlement checks.
type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
	List(ctx context.Context, limit, offset int) ([]models.Tenant, error)
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status string) error

	// ListExpiringWithin returns trial/active tenants whose window closes
	// within the given duration, for expiry-warning notifications.
	ListExpiringWithin(ctx context.Context, within time.Duration) ([]models.Tenant, error)
}

// Notification kinds handed to the outbound queue. Delivery and retries are
// the notification collaborator's responsibility.
const (
	NotifyWelcome              = "welcome"
	NotifyAccountLocked        = "account_locked"
	NotifyPasswordReset        = "password_reset"
	NotifySubscriptionExpiring = "subscription_expiring"
)

// Notification is an outbound message to the notification collaborator.
type Notification struct {
	Kind       string
	TenantID   string
	IdentityID string
	Email      string
	Name       string
	Data       map[string]string
}

// NotificationQueue accepts fire-and-forget notifications. Enqueue must not
// block the request path.
type NotificationQueue interface {
	Enqueue(n Notification)
}

// AuthEvents receives audit events for the event bus. Implementations log
// publish failures themselves; the authenticator never fails a request over
// an audit event.
type AuthEvents interface {
	LoginSucceeded(ctx context.Context, tenantID, identityID, email, ip, userAgent string)
	LoginFailed(ctx context.Context, tenantID, email, ip, reason string, attempts int)
	AccountLocked(ctx context.Context, tenantID, identityID, email string, until time.Time)
	AccountUnlocked(ctx context.Context, tenantID, identityID, email, adminID string)
	PasswordResetRequested(ctx context.Context, tenantID, identityID, email string)
	PasswordChanged(ctx context.Context, tenantID, identityID, email string)
	EmailVerified(ctx context.Context, tenantID, identityID, email string)
}
