package handlers

import (
	"net/http"
	"strconv"

	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"

	"github.com/gin-gonic/gin"
)

// PaymentHandler serves payment history and summary views over escrows.
type PaymentHandler struct {
	escrows repository.EscrowRepository
}

// NewPaymentHandler creates the payment handler.
func NewPaymentHandler(escrows repository.EscrowRepository) *PaymentHandler {
	return &PaymentHandler{escrows: escrows}
}

// History returns the caller's escrows, newest first.
func (h *PaymentHandler) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	escrows, err := h.escrows.ListByDepositor(c.Request.Context(), userID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payments": escrows, "count": len(escrows)})
}

// Summary aggregates the caller's escrows by status.
func (h *PaymentHandler) Summary(c *gin.Context) {
	escrows, err := h.escrows.ListByDepositor(c.Request.Context(), userID(c), 1000)
	if err != nil {
		respondError(c, err)
		return
	}

	var locked, released, refunded int64
	counts := map[models.EscrowStatus]int{}
	for _, e := range escrows {
		counts[e.Status]++
		switch e.Status {
		case models.EscrowStatusLocked:
			locked += e.Amount
		case models.EscrowStatusReleased:
			released += e.Amount
		case models.EscrowStatusRefunded:
			refunded += e.Amount
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": gin.H{
			"total_escrows":   len(escrows),
			"locked_amount":   locked,
			"released_amount": released,
			"refunded_amount": refunded,
			"by_status":       counts,
		},
	})
}
