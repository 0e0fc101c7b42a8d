package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"school-access-service/internal/middleware"
	"school-access-service/internal/models"
	"school-access-service/internal/services"
)

// AdminHandlers covers account administration within a tenant: listing
// identities, role and status changes, and manual unlock. Routes are gated
// by AdminOnly.
type AdminHandlers struct {
	authService *services.AuthService
}

func NewAdminHandlers(authService *services.AuthService) *AdminHandlers {
	return &AdminHandlers{authService: authService}
}

// ListUsers lists identities in the admin's tenant. Super admins pass an
// explicit tenant_id.
func (h *AdminHandlers) ListUsers(c *gin.Context) {
	admin, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}

	var tenantID uuid.UUID
	if admin.Role == models.RoleSuperAdmin {
		parsed, err := uuid.Parse(c.Query("tenant_id"))
		if err != nil {
			respondBadRequest(c, err)
			return
		}
		tenantID = parsed
	} else {
		if admin.TenantID == nil {
			respondError(c, services.ErrForbidden)
			return
		}
		tenantID = *admin.TenantID
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	identities, err := h.authService.ListIdentities(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	profiles := make([]models.Profile, 0, len(identities))
	for i := range identities {
		profiles = append(profiles, *identities[i].Profile())
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles, "count": len(profiles)})
}

// GetUser returns one identity, including lockout state for admins.
func (h *AdminHandlers) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	identity, err := h.authService.GetIdentity(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.sameTenant(c, identity) {
		respondError(c, services.ErrForbidden)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":                  identity.Profile(),
		"failed_login_attempts": identity.FailedLoginAttempts,
		"locked_until":          identity.LockedUntil,
	})
}

type UpdateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Username  *string `json:"username"`
	Phone     *string `json:"phone"`
	Status    *string `json:"status"`
	Role      *string `json:"role"`
}

// UpdateUser applies a partial update to an identity's profile, role or
// status.
func (h *AdminHandlers) UpdateUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	target, err := h.authService.GetIdentity(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.sameTenant(c, target) {
		respondError(c, services.ErrForbidden)
		return
	}

	patch := models.IdentityPatch{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Phone:     req.Phone,
		Status:    req.Status,
		Role:      req.Role,
	}
	profile, err := h.authService.UpdateIdentity(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// UnlockUser clears an account lockout ahead of its expiry.
func (h *AdminHandlers) UnlockUser(c *gin.Context) {
	admin, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	target, err := h.authService.GetIdentity(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.sameTenant(c, target) {
		respondError(c, services.ErrForbidden)
		return
	}

	if err := h.authService.Unlock(c.Request.Context(), id, admin.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account unlocked"})
}

// sameTenant enforces tenant isolation for admin operations: a tenant admin
// may only touch identities in their own tenant.
func (h *AdminHandlers) sameTenant(c *gin.Context, target *models.Identity) bool {
	admin, ok := middleware.CurrentIdentity(c)
	if !ok {
		return false
	}
	if admin.Role == models.RoleSuperAdmin {
		return true
	}
	if admin.TenantID == nil || target.TenantID == nil {
		return false
	}
	return *admin.TenantID == *target.TenantID
}
