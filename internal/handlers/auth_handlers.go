package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"school-access-service/internal/metrics"
	"school-access-service/internal/middleware"
	"school-access-service/internal/models"
	"school-access-service/internal/services"
)

type AuthHandlers struct {
	authService *services.AuthService
}

func NewAuthHandlers(authService *services.AuthService) *AuthHandlers {
	return &AuthHandlers{authService: authService}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type RegisterRequest struct {
	Email     string  `json:"email" binding:"required,email"`
	Username  *string `json:"username"`
	Password  string  `json:"password" binding:"required"`
	FirstName string  `json:"first_name" binding:"required"`
	LastName  string  `json:"last_name" binding:"required"`
	Phone     *string `json:"phone"`
	Role      string  `json:"role"`
	TenantID  *string `json:"tenant_id"`
}

// Login authenticates with email and password and returns a token pair.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.authService.Login(c.Request.Context(),
		req.Email, req.Password, req.TOTPCode, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(loginOutcome(err)).Inc()
		respondError(c, err)
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, result)
}

// Refresh exchanges a refresh token for a fresh token pair.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		respondError(c, err)
		return
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, result)
}

// Logout acknowledges the client discarding its tokens. Tokens are
// stateless; nothing is revoked server-side.
func (h *AuthHandlers) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Register provisions a new identity in status pending.
func (h *AuthHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	input := services.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      req.Role,
	}
	if req.TenantID != nil {
		tenantID, err := uuid.Parse(*req.TenantID)
		if err != nil {
			respondBadRequest(c, err)
			return
		}
		input.TenantID = &tenantID
	}

	profile, err := h.authService.Register(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": profile})
}

// VerifyEmail consumes a verification token and activates the identity.
func (h *AuthHandlers) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "verification token required",
			"code":  "VALIDATION",
		})
		return
	}

	if err := h.authService.VerifyEmail(c.Request.Context(), token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResendVerification issues a fresh verification token for an unverified
// account. The response is identical whether or not the email exists.
func (h *AuthHandlers) ResendVerification(c *gin.Context) {
	var req ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.authService.ResendVerification(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "if the email is registered and unverified, a new link has been sent",
	})
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ForgotPassword starts the reset flow. The response is identical whether
// or not the email exists.
func (h *AuthHandlers) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "if the email is registered, a reset link has been sent",
	})
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *AuthHandlers) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *AuthHandlers) ChangePassword(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	err := h.authService.ChangePassword(c.Request.Context(),
		identity.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// Profile returns the authenticated identity's own record.
func (h *AuthHandlers) Profile(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity.Profile()})
}

// Capabilities returns the capabilities granted by the identity's role.
func (h *AuthHandlers) Capabilities(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"role":         identity.Role,
		"capabilities": models.RoleCapabilities()[identity.Role],
	})
}

// CheckCapability reports whether the identity's role grants one capability.
func (h *AuthHandlers) CheckCapability(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, services.ErrUnauthenticated)
		return
	}
	capability := c.Param("capability")
	c.JSON(http.StatusOK, gin.H{
		"capability": capability,
		"allowed":    identity.HasCapability(capability),
	})
}

func loginOutcome(err error) string {
	ae, ok := services.AsAuthError(err)
	if !ok {
		return "error"
	}
	switch ae.Kind {
	case services.KindInvalidCredentials:
		return "invalid_credentials"
	case services.KindTwoFactorRequired:
		return "two_factor_required"
	case services.KindAccountLocked:
		return "locked"
	case services.KindTenantInaccessible:
		return "tenant_inaccessible"
	default:
		return "error"
	}
}
