package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"portalid/internal/core/sequence"
)

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store     sequence.Pinger
	storeKind string
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store sequence.Pinger, storeKind string) *HealthHandler {
	return &HealthHandler{store: store, storeKind: storeKind, timeout: 2 * time.Second}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles readiness probe (can the counter store be reached?).
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": map[string]string{
				h.storeKind: "unhealthy: " + err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			h.storeKind: "healthy",
		},
	})
}
