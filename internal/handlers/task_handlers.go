package handlers

import (
	"net/http"
	"strconv"
	"time"

	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// TaskHandler serves the task lifecycle endpoints.
type TaskHandler struct {
	settlement  *services.SettlementService
	tasks       repository.TaskRepository
	submissions repository.SubmissionRepository
}

// NewTaskHandler creates the task handler.
func NewTaskHandler(settlement *services.SettlementService, tasks repository.TaskRepository, submissions repository.SubmissionRepository) *TaskHandler {
	return &TaskHandler{settlement: settlement, tasks: tasks, submissions: submissions}
}

type createTaskRequest struct {
	Title                string                       `json:"title" binding:"required"`
	Description          string                       `json:"description"`
	TotalBudget          int64                        `json:"total_budget" binding:"required"`
	PaymentMethod        string                       `json:"payment_method" binding:"required"`
	DeliverableType      string                       `json:"deliverable_type"`
	Milestones           []models.Milestone           `json:"milestones"`
	VerificationCriteria *models.VerificationCriteria `json:"verification_criteria"`
	Deadline             *time.Time                   `json:"deadline"`
	RecipientHint        string                       `json:"recipient_hint"`
}

// CreateTask opens a task awaiting deposit.
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	task, err := h.settlement.CreateTask(c.Request.Context(), &services.CreateTaskInput{
		CreatorID:            userID(c),
		Title:                req.Title,
		Description:          req.Description,
		TotalBudget:          req.TotalBudget,
		PaymentMethod:        models.PaymentMethod(req.PaymentMethod),
		DeliverableType:      req.DeliverableType,
		Milestones:           req.Milestones,
		VerificationCriteria: req.VerificationCriteria,
		Deadline:             req.Deadline,
		RecipientHint:        req.RecipientHint,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "task": task})
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

// CancelTask cancels an unfunded task. Creator only; funded tasks go
// through the refund endpoint.
func (h *TaskHandler) CancelTask(c *gin.Context) {
	var req cancelTaskRequest
	// body is optional, a bare POST cancels with the default reason
	_ = c.ShouldBindJSON(&req)

	task, err := h.settlement.CancelTask(c.Request.Context(), c.Param("id"), userID(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

// GetTask returns one task.
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.tasks.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

// ListTasks returns recent tasks, optionally filtered by creator.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	var (
		tasks []*models.Task
		err   error
	)
	if creator := c.Query("creator_id"); creator != "" {
		tasks, err = h.tasks.ListByCreator(c.Request.Context(), creator, limit)
	} else {
		tasks, err = h.tasks.List(c.Request.Context(), limit)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks, "count": len(tasks)})
}

// ListTaskSubmissions returns every submission attempt for a task.
func (h *TaskHandler) ListTaskSubmissions(c *gin.Context) {
	submissions, err := h.submissions.ListByTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "submissions": submissions, "count": len(submissions)})
}
