package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"school-access-service/internal/models"
)

// memIdentityStore is an in-memory IdentityStore for tests. Its clock is
// injectable so lockout windows line up with the service under test.
type memIdentityStore struct {
	mu         sync.Mutex
	identities map[uuid.UUID]*models.Identity
	now        func() time.Time

	failErr   error // when set, every call fails with this error
	createErr error // when set, Create alone fails with this error
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{
		identities: make(map[uuid.UUID]*models.Identity),
		now:        time.Now,
	}
}

func (m *memIdentityStore) put(ident *models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *ident
	m.identities[ident.ID] = &copied
}

func (m *memIdentityStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	ident, ok := m.identities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *ident
	return &copied, nil
}

func (m *memIdentityStore) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, ident := range m.identities {
		if strings.EqualFold(ident.Email, email) {
			copied := *ident
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memIdentityStore) Create(ctx context.Context, ident *models.Identity) error {
	if m.failErr != nil {
		return m.failErr
	}
	if m.createErr != nil {
		return m.createErr
	}
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	m.put(ident)
	return nil
}

func (m *memIdentityStore) Update(ctx context.Context, ident *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.identities[ident.ID]
	if !ok {
		return models.ErrNotFound
	}
	stored.Username = ident.Username
	stored.FirstName = ident.FirstName
	stored.LastName = ident.LastName
	stored.Phone = ident.Phone
	stored.Role = ident.Role
	stored.Status = ident.Status
	return nil
}

func (m *memIdentityStore) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Identity
	for _, ident := range m.identities {
		if ident.TenantID != nil && *ident.TenantID == tenantID {
			out = append(out, *ident)
		}
	}
	return out, nil
}

func (m *memIdentityStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.Username != nil && *ident.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memIdentityStore) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, nil, m.failErr
	}
	ident, ok := m.identities[id]
	if !ok {
		return 0, nil, models.ErrNotFound
	}
	ident.FailedLoginAttempts++
	if ident.FailedLoginAttempts >= threshold {
		until := m.now().Add(lockFor)
		ident.LockedUntil = &until
	}
	if ident.LockedUntil != nil {
		until := *ident.LockedUntil
		return ident.FailedLoginAttempts, &until, nil
	}
	return ident.FailedLoginAttempts, nil, nil
}

func (m *memIdentityStore) ResetLoginFailures(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.FailedLoginAttempts = 0
	ident.LockedUntil = nil
	return nil
}

func (m *memIdentityStore) SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident, ok := m.identities[id]; ok {
		ident.LastLoginAt = &at
	}
	return nil
}

func (m *memIdentityStore) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.PasswordHash = hash
	return nil
}

func (m *memIdentityStore) SetPasswordReset(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.PasswordResetToken = &token
	ident.PasswordResetExpiry = &expires
	return nil
}

func (m *memIdentityStore) GetByResetToken(ctx context.Context, token string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.PasswordResetToken != nil && *ident.PasswordResetToken == token {
			copied := *ident
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memIdentityStore) ClearPasswordReset(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident, ok := m.identities[id]; ok {
		ident.PasswordResetToken = nil
		ident.PasswordResetExpiry = nil
	}
	return nil
}

func (m *memIdentityStore) SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.VerificationToken = &token
	return nil
}

func (m *memIdentityStore) GetByVerificationToken(ctx context.Context, token string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.VerificationToken != nil && *ident.VerificationToken == token {
			copied := *ident
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memIdentityStore) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.EmailVerified = true
	ident.VerificationToken = nil
	if ident.Status == models.StatusPending {
		ident.Status = models.StatusActive
	}
	return nil
}

func (m *memIdentityStore) SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.TwoFactorEnabled = enabled
	ident.TOTPSecret = secret
	return nil
}

// memTenantStore is an in-memory TenantStore for tests.
type memTenantStore struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*models.Tenant
}

func newMemTenantStore() *memTenantStore {
	return &memTenantStore{tenants: make(map[uuid.UUID]*models.Tenant)}
}

func (m *memTenantStore) put(tenant *models.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *tenant
	m.tenants[tenant.ID] = &copied
}

func (m *memTenantStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (m *memTenantStore) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tenant := range m.tenants {
		if tenant.Slug == slug {
			copied := *tenant
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memTenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	m.put(tenant)
	return nil
}

func (m *memTenantStore) List(ctx context.Context, limit, offset int) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tenant
	for _, tenant := range m.tenants {
		out = append(out, *tenant)
	}
	return out, nil
}

func (m *memTenantStore) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return models.ErrNotFound
	}
	tenant.SubscriptionStatus = status
	tenant.IsActive = status == models.TenantTrial || status == models.TenantActive
	return nil
}

func (m *memTenantStore) ListExpiringWithin(ctx context.Context, within time.Duration) ([]models.Tenant, error) {
	return nil, nil
}

// memQueue captures notifications synchronously.
type memQueue struct {
	mu            sync.Mutex
	notifications []Notification
}

func (m *memQueue) Enqueue(n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
}

func (m *memQueue) byKind(kind string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.notifications {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// memEvents records audit events by name.
type memEvents struct {
	mu     sync.Mutex
	events []string
}

func (m *memEvents) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, name)
}

func (m *memEvents) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == name {
			n++
		}
	}
	return n
}

func (m *memEvents) LoginSucceeded(ctx context.Context, tenantID, identityID, email, ip, userAgent string) {
	m.record("login_succeeded")
}

func (m *memEvents) LoginFailed(ctx context.Context, tenantID, email, ip, reason string, attempts int) {
	m.record("login_failed")
}

func (m *memEvents) AccountLocked(ctx context.Context, tenantID, identityID, email string, until time.Time) {
	m.record("account_locked")
}

func (m *memEvents) AccountUnlocked(ctx context.Context, tenantID, identityID, email, adminID string) {
	m.record("account_unlocked")
}

func (m *memEvents) PasswordResetRequested(ctx context.Context, tenantID, identityID, email string) {
	m.record("password_reset_requested")
}

func (m *memEvents) PasswordChanged(ctx context.Context, tenantID, identityID, email string) {
	m.record("password_changed")
}

func (m *memEvents) EmailVerified(ctx context.Context, tenantID, identityID, email string) {
	m.record("email_verified")
}
