package handlers

import (
	"context"
	"net/http"
	"time"

	"escrow-backend/internal/models"
	"escrow-backend/internal/rail"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PingHandler liveness check.
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// HealthHandler reports readiness of the database and each settlement rail.
type HealthHandler struct {
	db    *gorm.DB
	rails map[models.PaymentMethod]rail.SettlementRail
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(db *gorm.DB, rails map[models.PaymentMethod]rail.SettlementRail) *HealthHandler {
	return &HealthHandler{db: db, rails: rails}
}

// Health checks each dependency with a short timeout. Degraded rails are
// reported individually; the endpoint only fails when the database is
// unreachable, since settlement can queue behind a rail outage but not
// behind a dead store.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true

	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil {
		dbStatus = "error: " + err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
		healthy = false
	}
	components["database"] = dbStatus

	railStatus := gin.H{}
	for method, r := range h.rails {
		if err := r.Ready(ctx); err != nil {
			railStatus[string(method)] = "degraded: " + err.Error()
		} else {
			railStatus[string(method)] = "ok"
		}
	}
	components["rails"] = railStatus

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":     state,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
