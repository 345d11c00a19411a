package handlers

import (
	"net/http"

	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// SubmissionHandler serves work submission and verification endpoints.
type SubmissionHandler struct {
	settlement  *services.SettlementService
	submissions repository.SubmissionRepository
}

// NewSubmissionHandler creates the submission handler.
func NewSubmissionHandler(settlement *services.SettlementService, submissions repository.SubmissionRepository) *SubmissionHandler {
	return &SubmissionHandler{settlement: settlement, submissions: submissions}
}

type submitWorkRequest struct {
	TaskID     string `json:"task_id" binding:"required"`
	PayloadRef string `json:"payload_ref" binding:"required"`
	Notes      string `json:"notes"`
}

// SubmitWork records a deliverable attempt against an active task.
func (h *SubmissionHandler) SubmitWork(c *gin.Context) {
	var req submitWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	submission, err := h.settlement.SubmitWork(c.Request.Context(), req.TaskID, userID(c), req.PayloadRef, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "submission": submission})
}

// GetSubmission returns one submission.
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	submission, err := h.submissions.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "submission not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "submission": submission})
}

// RunVerification runs the judge over a submission and records the verdict.
// Safe to call again: a completed submission returns its stored result.
func (h *SubmissionHandler) RunVerification(c *gin.Context) {
	result, err := h.settlement.RunVerification(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}
