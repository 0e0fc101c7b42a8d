package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"school-access-service/internal/middleware"
	"school-access-service/internal/services"
)

// TOTPHandlers manages two-factor enrollment for the authenticated
// identity.
type TOTPHandlers struct {
	totpService *services.TOTPService
}

func NewTOTPHandlers(totpService *services.TOTPService) *TOTPHandlers {
	return &TOTPHandlers{totpService: totpService}
}

// Setup generates a fresh secret and provisioning URL for an authenticator
// app. Nothing is persisted until Confirm succeeds.
func (h *TOTPHandlers) Setup(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}

	enrollment, err := h.totpService.BeginEnrollment(c.Request.Context(), identity.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

type ConfirmTOTPRequest struct {
	Secret string `json:"secret" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// Confirm verifies a live code against the pending secret and switches
// two-factor on.
func (h *TOTPHandlers) Confirm(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}

	var req ConfirmTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	err := h.totpService.ConfirmEnrollment(c.Request.Context(), identity.ID, req.Secret, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "two-factor enabled"})
}

// Disable switches two-factor off for the authenticated identity.
func (h *TOTPHandlers) Disable(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}

	if err := h.totpService.Disable(c.Request.Context(), identity.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "two-factor disabled"})
}
