package handlers

import (
	"net/http"

	"escrow-backend/internal/rail"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// EscrowHandler serves deposit, refund and escrow status endpoints.
type EscrowHandler struct {
	settlement *services.SettlementService
	escrows    repository.EscrowRepository
}

// NewEscrowHandler creates the escrow handler.
func NewEscrowHandler(settlement *services.SettlementService, escrows repository.EscrowRepository) *EscrowHandler {
	return &EscrowHandler{settlement: settlement, escrows: escrows}
}

// depositRequest selects the proof shape by payment rail: an on-chain tx
// hash for contract deposits, a signing credential for ledger deposits.
// Exactly one must be present.
type depositRequest struct {
	TaskID            string `json:"task_id" binding:"required"`
	Amount            int64  `json:"amount" binding:"required"`
	TxHash            string `json:"tx_hash"`
	SigningCredential string `json:"signing_credential"`
}

// Deposit locks the task budget in escrow.
func (h *EscrowHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	var proof rail.DepositProof
	switch {
	case req.TxHash != "" && req.SigningCredential != "":
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "provide either tx_hash or signing_credential, not both",
		})
		return
	case req.TxHash != "":
		proof = rail.OnChainProof{TxHash: req.TxHash}
	case req.SigningCredential != "":
		proof = rail.LedgerProof{SigningCredential: req.SigningCredential}
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "a deposit proof (tx_hash or signing_credential) is required",
		})
		return
	}

	escrow, err := h.settlement.DepositEscrow(c.Request.Context(), req.TaskID, userID(c), req.Amount, proof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "escrow": escrow})
}

// GetByTask returns the escrow backing a task.
func (h *EscrowHandler) GetByTask(c *gin.Context) {
	escrow, err := h.escrows.GetByTaskID(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no escrow for task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "escrow": escrow})
}

type refundRequest struct {
	TaskID string `json:"task_id" binding:"required"`
	Reason string `json:"reason"`
}

// Refund returns locked funds to the depositor and cancels the task.
func (h *EscrowHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual refund"
	}

	escrow, err := h.settlement.RefundEscrow(c.Request.Context(), req.TaskID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "escrow": escrow})
}

type releaseRequest struct {
	SubmissionID     string `json:"submission_id" binding:"required"`
	RecipientAddress string `json:"recipient_address"`
}

// Release pays an approved submission out of escrow.
func (h *EscrowHandler) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	escrow, err := h.settlement.ReleasePayment(c.Request.Context(), req.SubmissionID, req.RecipientAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "escrow": escrow})
}
