package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"school-access-service/internal/metrics"
	"school-access-service/internal/middleware"
	"school-access-service/internal/models"
	"school-access-service/internal/services"
)

// TenantHandlers exposes the tenant's subscription state and the
// entitlement gate, plus tenant administration for super admins.
type TenantHandlers struct {
	tenants      services.TenantStore
	entitlements *services.EntitlementService
}

func NewTenantHandlers(tenants services.TenantStore, entitlements *services.EntitlementService) *TenantHandlers {
	return &TenantHandlers{tenants: tenants, entitlements: entitlements}
}

// CurrentTenant returns the authenticated identity's tenant, as resolved by
// the pipeline.
func (h *TenantHandlers) CurrentTenant(c *gin.Context) {
	tenant, ok := middleware.CurrentTenant(c)
	if !ok {
		respondError(c, services.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenant})
}

// Entitlements returns the plan's full limit table alongside access state.
func (h *TenantHandlers) Entitlements(c *gin.Context) {
	tenant, ok := middleware.CurrentTenant(c)
	if !ok {
		respondError(c, services.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":       tenant.SubscriptionPlan,
		"status":     tenant.SubscriptionStatus,
		"can_access": h.entitlements.CanAccess(tenant),
		"limits":     h.entitlements.Limits(tenant.SubscriptionPlan),
	})
}

// CheckFeature answers whether one more unit of a feature may be consumed
// at the given current usage.
func (h *TenantHandlers) CheckFeature(c *gin.Context) {
	tenant, ok := middleware.CurrentTenant(c)
	if !ok {
		respondError(c, services.ErrForbidden)
		return
	}

	feature := c.Param("feature")
	usage, err := strconv.Atoi(c.DefaultQuery("usage", "0"))
	if err != nil || usage < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "usage must be a non-negative integer",
			"code":  "VALIDATION",
		})
		return
	}

	allowed := h.entitlements.CanUse(tenant.SubscriptionPlan, feature, usage)
	if !allowed {
		metrics.EntitlementDenials.WithLabelValues(feature).Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"feature": feature,
		"limit":   h.entitlements.FeatureLimit(tenant.SubscriptionPlan, feature),
		"usage":   usage,
		"allowed": allowed,
	})
}

// ListTenants lists all tenants. Super admin only.
func (h *TenantHandlers) ListTenants(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tenants, err := h.tenants.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

// GetTenant returns one tenant by id. Super admin only.
func (h *TenantHandlers) GetTenant(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	tenant, err := h.tenants.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found", "code": "NOT_FOUND"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenant})
}

type CreateTenantRequest struct {
	Name             string  `json:"name" binding:"required"`
	Slug             string  `json:"slug" binding:"required"`
	Email            string  `json:"email" binding:"required,email"`
	Phone            *string `json:"phone"`
	SchoolName       string  `json:"school_name" binding:"required"`
	SchoolType       *string `json:"school_type"`
	SubscriptionPlan string  `json:"subscription_plan"`
	TrialDays        int     `json:"trial_days"`
}

// CreateTenant provisions a new school on a trial subscription. Super admin
// only.
func (h *TenantHandlers) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	plan := req.SubscriptionPlan
	if plan == "" {
		plan = models.PlanBasic
	}
	if !models.IsValidPlan(plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown subscription plan", "code": "VALIDATION"})
		return
	}

	if _, err := h.tenants.GetBySlug(c.Request.Context(), req.Slug); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "slug already in use", "code": "CONFLICT"})
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		respondError(c, err)
		return
	}

	trialDays := req.TrialDays
	if trialDays <= 0 {
		trialDays = 30
	}
	trialEnd := time.Now().AddDate(0, 0, trialDays)

	tenant := &models.Tenant{
		Name:                req.Name,
		Slug:                req.Slug,
		Email:               req.Email,
		Phone:               req.Phone,
		SchoolName:          req.SchoolName,
		SchoolType:          req.SchoolType,
		SubscriptionPlan:    plan,
		SubscriptionStatus:  models.TenantTrial,
		SubscriptionStartAt: time.Now(),
		TrialEndAt:          &trialEnd,
		IsActive:            true,
	}
	if err := h.tenants.Create(c.Request.Context(), tenant); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug already in use", "code": "CONFLICT"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tenant": tenant})
}

type UpdateTenantStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateTenantStatus moves a tenant between subscription states. Super
// admin only. Cancelled is terminal.
func (h *TenantHandlers) UpdateTenantStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	var req UpdateTenantStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	switch req.Status {
	case models.TenantTrial, models.TenantActive, models.TenantSuspended, models.TenantCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown subscription status", "code": "VALIDATION"})
		return
	}

	tenant, err := h.tenants.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found", "code": "NOT_FOUND"})
			return
		}
		respondError(c, err)
		return
	}
	if tenant.SubscriptionStatus == models.TenantCancelled {
		c.JSON(http.StatusConflict, gin.H{
			"error": "cancelled subscriptions cannot change status",
			"code":  "CONFLICT",
		})
		return
	}

	if err := h.tenants.UpdateSubscriptionStatus(c.Request.Context(), id, req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription status updated", "status": req.Status})
}
