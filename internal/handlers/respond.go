package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"school-access-service/internal/services"
)

// respondError maps a service error onto the wire. Kinded errors carry
// their own status and safe message; anything else is an opaque 500.
func respondError(c *gin.Context, err error) {
	if ae, ok := services.AsAuthError(err); ok {
		c.JSON(ae.HTTPStatus(), gin.H{
			"error": ae.Message,
			"code":  string(ae.Kind),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "internal server error",
		"code":  "INTERNAL",
	})
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request format",
		"code":    "VALIDATION",
		"details": err.Error(),
	})
}
