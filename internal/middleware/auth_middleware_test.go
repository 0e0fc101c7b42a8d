package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-access-service/internal/models"
	"school-access-service/internal/services"
)

// stubIdentities covers the pipeline's read path; the embedded interface
// panics on anything else, which is what we want in these tests.
type stubIdentities struct {
	services.IdentityStore
	byID map[uuid.UUID]*models.Identity
	err  error
}

func (s *stubIdentities) GetByID(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	ident, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *ident
	return &copied, nil
}

type stubTenants struct {
	services.TenantStore
	byID map[uuid.UUID]*models.Tenant
}

func (s *stubTenants) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

type pipelineFixture struct {
	mw         *AuthMiddleware
	tokens     *services.TokenService
	identities *stubIdentities
	tenants    *stubTenants
	tenant     *models.Tenant
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	trialEnd := time.Now().Add(30 * 24 * time.Hour)
	tenant := &models.Tenant{
		ID:                 uuid.New(),
		SubscriptionPlan:   models.PlanBasic,
		SubscriptionStatus: models.TenantTrial,
		TrialEndAt:         &trialEnd,
		IsActive:           true,
	}

	identities := &stubIdentities{byID: make(map[uuid.UUID]*models.Identity)}
	tenants := &stubTenants{byID: map[uuid.UUID]*models.Tenant{tenant.ID: tenant}}

	tokens := services.NewTokenService("test-secret", 30*time.Minute, 7*24*time.Hour)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return &pipelineFixture{
		mw:         NewAuthMiddleware(tokens, identities, tenants, services.NewEntitlementService(), logger),
		tokens:     tokens,
		identities: identities,
		tenants:    tenants,
		tenant:     tenant,
	}
}

func (f *pipelineFixture) seedIdentity(role string, tenantID *uuid.UUID) *models.Identity {
	ident := &models.Identity{
		ID:       uuid.New(),
		TenantID: tenantID,
		Email:    "someone@school.test",
		Role:     role,
		Status:   models.StatusActive,
	}
	f.identities.byID[ident.ID] = ident
	return ident
}

func (f *pipelineFixture) router(extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	handlers := append([]gin.HandlerFunc{f.mw.Authenticate()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		identity, _ := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"email": identity.Email, "role": identity.Role})
	})
	router.GET("/protected", handlers...)
	return router
}

func (f *pipelineFixture) get(t *testing.T, router *gin.Engine, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleTeacher, &f.tenant.ID)

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, f.tenant.ID.String())
	require.NoError(t, err)

	rec := f.get(t, f.router(), token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ident.Email)
}

func TestAuthenticateMissingToken(t *testing.T) {
	f := newPipelineFixture(t)

	rec := f.get(t, f.router(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
}

func TestAuthenticateMalformedToken(t *testing.T) {
	f := newPipelineFixture(t)

	rec := f.get(t, f.router(), "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleTeacher, &f.tenant.ID)

	refresh, err := f.tokens.IssueRefresh(ident.ID)
	require.NoError(t, err)

	rec := f.get(t, f.router(), refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
}

func TestAuthenticateDeletedIdentity(t *testing.T) {
	f := newPipelineFixture(t)

	token, err := f.tokens.IssueAccess(uuid.New(), models.RoleTeacher, f.tenant.ID.String())
	require.NoError(t, err)

	rec := f.get(t, f.router(), token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateInactiveIdentity(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleTeacher, &f.tenant.ID)
	ident.Status = models.StatusSuspended

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, f.tenant.ID.String())
	require.NoError(t, err)

	rec := f.get(t, f.router(), token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACCOUNT_LOCKED")
}

// A role change after token issue takes effect immediately: the pipeline
// trusts the stored role, not the claim.
func TestAuthenticateUsesStoredRole(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleAdmin, &f.tenant.ID)

	token, err := f.tokens.IssueAccess(ident.ID, models.RoleAdmin, f.tenant.ID.String())
	require.NoError(t, err)

	ident.Role = models.RoleStudent

	router := f.router(f.mw.AdminOnly())
	rec := f.get(t, router, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticateTenantGate(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleTeacher, &f.tenant.ID)

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, f.tenant.ID.String())
	require.NoError(t, err)

	f.tenant.SubscriptionStatus = models.TenantSuspended

	rec := f.get(t, f.router(), token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_INACCESSIBLE")
}

func TestAuthenticateSuperAdminSkipsTenantGate(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleSuperAdmin, nil)

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, "")
	require.NoError(t, err)

	rec := f.get(t, f.router(), token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateInfrastructureFailure(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleTeacher, &f.tenant.ID)

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, f.tenant.ID.String())
	require.NoError(t, err)

	f.identities.err = context.DeadlineExceeded

	rec := f.get(t, f.router(), token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireAnyRole(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleParent, &f.tenant.ID)

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, f.tenant.ID.String())
	require.NoError(t, err)

	allowed := f.router(f.mw.RequireAnyRole(models.RoleParent, models.RoleStudent))
	assert.Equal(t, http.StatusOK, f.get(t, allowed, token).Code)

	denied := f.router(f.mw.RequireAnyRole(models.RoleAdmin))
	rec := f.get(t, denied, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")
}

func TestRequireCapability(t *testing.T) {
	f := newPipelineFixture(t)
	ident := f.seedIdentity(models.RoleTeacher, &f.tenant.ID)

	token, err := f.tokens.IssueAccess(ident.ID, ident.Role, f.tenant.ID.String())
	require.NoError(t, err)

	allowed := f.router(f.mw.RequireCapability(models.CapTakeAttendance))
	assert.Equal(t, http.StatusOK, f.get(t, allowed, token).Code)

	denied := f.router(f.mw.RequireCapability(models.CapManageFees))
	assert.Equal(t, http.StatusForbidden, f.get(t, denied, token).Code)
}

func TestBearerExtraction(t *testing.T) {
	f := newPipelineFixture(t)
	router := f.router()

	// Non-bearer scheme is rejected before token parsing.
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
}
