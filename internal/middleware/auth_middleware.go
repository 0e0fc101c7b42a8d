package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"school-access-service/internal/metrics"
	"school-access-service/internal/models"
	"school-access-service/internal/services"
)

// Context keys set by Authenticate for downstream handlers.
const (
	ContextIdentity = "identity"
	ContextTenant   = "tenant"
	ContextClaims   = "claims"
)

// AuthMiddleware runs the access pipeline in front of protected routes:
// token verification, identity re-resolution, tenant re-resolution and the
// entitlement gate, in that order. Role and capability checks are separate
// handlers layered per route group.
type AuthMiddleware struct {
	tokens       *services.TokenService
	identities   services.IdentityStore
	tenants      services.TenantStore
	entitlements *services.EntitlementService
	logger       *logrus.Logger
}

func NewAuthMiddleware(
	tokens *services.TokenService,
	identities services.IdentityStore,
	tenants services.TenantStore,
	entitlements *services.EntitlementService,
	logger *logrus.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:       tokens,
		identities:   identities,
		tenants:      tenants,
		entitlements: entitlements,
		logger:       logger,
	}
}

// Authenticate verifies the bearer token, re-resolves the identity and
// tenant from storage, and applies the entitlement gate. Token claims are
// never trusted for anything beyond locating the identity: role, status and
// subscription state all come from the current records.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			m.reject(c, "token", services.ErrUnauthenticated)
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			m.reject(c, "token", err)
			return
		}
		// Refresh tokens only buy new tokens, never resource access.
		if claims.IsRefresh() {
			m.reject(c, "token", services.ErrInvalidToken)
			return
		}

		id, err := claims.SubjectID()
		if err != nil {
			m.reject(c, "token", services.ErrInvalidToken)
			return
		}

		identity, err := m.identities.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				m.reject(c, "identity", services.ErrInvalidToken)
			} else {
				m.logger.WithError(err).Error("Identity lookup failed during authentication")
				m.reject(c, "identity", services.ErrServiceUnavailable)
			}
			return
		}
		if !identity.IsActive() {
			m.reject(c, "identity", services.ErrAccountLocked)
			return
		}

		// Super admins operate across tenants and skip the entitlement gate.
		if identity.Role != models.RoleSuperAdmin && identity.TenantID != nil {
			tenant, err := m.tenants.GetByID(c.Request.Context(), *identity.TenantID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					m.reject(c, "tenant", services.ErrTenantInaccessible)
				} else {
					m.logger.WithError(err).Error("Tenant lookup failed during authentication")
					m.reject(c, "tenant", services.ErrServiceUnavailable)
				}
				return
			}
			if !m.entitlements.CanAccess(tenant) {
				m.reject(c, "entitlement", services.ErrTenantInaccessible)
				return
			}
			c.Set(ContextTenant, tenant)
			c.Set("tenant_id", tenant.ID)
		}

		c.Set(ContextIdentity, identity)
		c.Set(ContextClaims, claims)
		c.Set("user_id", identity.ID)
		c.Set("role", identity.Role)

		c.Next()
	}
}

// RequireAnyRole admits only identities whose current role is in the allow
// list. Must run after Authenticate.
func (m *AuthMiddleware) RequireAnyRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			m.reject(c, "role", services.ErrUnauthenticated)
			return
		}
		if !allowed[identity.Role] {
			m.reject(c, "role", services.ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireCapability admits only identities whose role grants the capability.
// Must run after Authenticate.
func (m *AuthMiddleware) RequireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			m.reject(c, "role", services.ErrUnauthenticated)
			return
		}
		if !identity.HasCapability(capability) {
			m.reject(c, "role", services.ErrForbidden)
			return
		}
		c.Next()
	}
}

// AdminOnly admits tenant admins and super admins.
func (m *AuthMiddleware) AdminOnly() gin.HandlerFunc {
	return m.RequireAnyRole(models.RoleSuperAdmin, models.RoleAdmin)
}

// SuperAdminOnly admits platform operators only.
func (m *AuthMiddleware) SuperAdminOnly() gin.HandlerFunc {
	return m.RequireAnyRole(models.RoleSuperAdmin)
}

func (m *AuthMiddleware) reject(c *gin.Context, stage string, err error) {
	metrics.PipelineRejections.WithLabelValues(stage).Inc()

	ae, ok := services.AsAuthError(err)
	if !ok {
		ae = services.ErrUnauthenticated
	}
	c.JSON(ae.HTTPStatus(), gin.H{
		"error": ae.Message,
		"code":  string(ae.Kind),
	})
	c.Abort()
}

// CurrentIdentity returns the authenticated identity set by Authenticate.
func CurrentIdentity(c *gin.Context) (*models.Identity, bool) {
	value, exists := c.Get(ContextIdentity)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*models.Identity)
	return identity, ok
}

// CurrentTenant returns the resolved tenant, when the identity is bound to
// one. Super admin requests carry no tenant.
func CurrentTenant(c *gin.Context) (*models.Tenant, bool) {
	value, exists := c.Get(ContextTenant)
	if !exists {
		return nil, false
	}
	tenant, ok := value.(*models.Tenant)
	return tenant, ok
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
