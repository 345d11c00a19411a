package handlers

import (
	"net/http"
	"strconv"

	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// DisputeHandler serves the freeze/unfreeze gate around settlement.
type DisputeHandler struct {
	settlement *services.SettlementService
	disputes   repository.DisputeRepository
}

// NewDisputeHandler creates the dispute handler.
func NewDisputeHandler(settlement *services.SettlementService, disputes repository.DisputeRepository) *DisputeHandler {
	return &DisputeHandler{settlement: settlement, disputes: disputes}
}

type openDisputeRequest struct {
	TaskID       string `json:"task_id" binding:"required"`
	SubmissionID string `json:"submission_id"`
	Reason       string `json:"reason" binding:"required"`
	Description  string `json:"description"`
}

// OpenDispute freezes settlement on the task.
func (h *DisputeHandler) OpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	dispute, err := h.settlement.OpenDispute(c.Request.Context(),
		req.TaskID, req.SubmissionID, userID(c), req.Reason, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "dispute": dispute})
}

type resolveDisputeRequest struct {
	Outcome          string `json:"outcome" binding:"required"` // release | refund
	Resolution       string `json:"resolution" binding:"required"`
	RecipientAddress string `json:"recipient_address"`
}

// ResolveDispute routes the frozen escrow to release or refund. Operator
// only.
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	escrow, err := h.settlement.ResolveDispute(c.Request.Context(),
		c.Param("id"), req.Outcome, req.Resolution, req.RecipientAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "escrow": escrow})
}

// ListDisputes returns disputes for a task, or open disputes when no task
// filter is given.
func (h *DisputeHandler) ListDisputes(c *gin.Context) {
	if taskID := c.Query("task_id"); taskID != "" {
		disputes, err := h.disputes.ListByTask(c.Request.Context(), taskID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "disputes": disputes, "count": len(disputes)})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	disputes, err := h.disputes.ListOpen(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "disputes": disputes, "count": len(disputes)})
}
