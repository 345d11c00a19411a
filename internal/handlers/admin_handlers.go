package handlers

import (
	"net/http"
	"strconv"

	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the operator surface: the sweeper trigger and the
// dead-letter follow-up list.
type AdminHandler struct {
	sweeper     *services.EscrowTimeoutService
	deadLetters repository.DeadLetterRepository
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(sweeper *services.EscrowTimeoutService, deadLetters repository.DeadLetterRepository) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, deadLetters: deadLetters}
}

// TriggerSweep runs one sweeper pass immediately. The single-flight guard
// inside the sweeper makes a trigger during a scheduled pass a no-op.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	refunded := h.sweeper.RunPass(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"refunded": refunded,
	})
}

// ListDeadLetters returns refund failures awaiting manual follow-up.
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	records, err := h.deadLetters.ListPending(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "dead_letters": records, "count": len(records)})
}
