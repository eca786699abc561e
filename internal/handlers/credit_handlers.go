package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCredits returns the caller's credit status for today. Identity comes
// from the auth middleware.
func (h *Handlers) GetCredits(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, h.Ledger.Status(userID.(string)))
}

// Health is the liveness endpoint.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"message":    "CalorieTrack AI proxy is running",
		"dailyLimit": h.Ledger.Limit(),
	})
}
