package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/metrics"
	"escrow-backend/internal/models"
	"escrow-backend/internal/rail"
	"escrow-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier delivers settlement events to interested parties. Failures are
// logged and never block settlement.
type Notifier interface {
	Notify(event string, recipient string, payload map[string]interface{})
}

// Verifier is the gate the settlement service runs submissions through.
type Verifier interface {
	Verify(ctx context.Context, submission *models.Submission, task *models.Task) (*models.VerificationResult, error)
}

// CreateTaskInput carries everything needed to open a task.
type CreateTaskInput struct {
	CreatorID            string
	Title                string
	Description          string
	TotalBudget          int64
	PaymentMethod        models.PaymentMethod
	DeliverableType      string
	Milestones           []models.Milestone
	VerificationCriteria *models.VerificationCriteria
	Deadline             *time.Time
	RecipientHint        string
}

// SettlementService owns every transition across Task, Escrow and
// Submission. All mutation paths, client requests and the timeout sweeper
// alike, go through its methods so the invariants hold everywhere.
type SettlementService struct {
	tasks       repository.TaskRepository
	escrows     repository.EscrowRepository
	submissions repository.SubmissionRepository
	disputes    repository.DisputeRepository
	rails       map[models.PaymentMethod]rail.SettlementRail
	gate        Verifier
	notifier    Notifier
	log         *logrus.Entry
}

// NewSettlementService wires the orchestrator. Rails are injected per
// payment method; a missing rail fails the corresponding deposits at
// request time, not at startup.
func NewSettlementService(
	tasks repository.TaskRepository,
	escrows repository.EscrowRepository,
	submissions repository.SubmissionRepository,
	disputes repository.DisputeRepository,
	rails map[models.PaymentMethod]rail.SettlementRail,
	gate Verifier,
	notifier Notifier,
) *SettlementService {
	return &SettlementService{
		tasks:       tasks,
		escrows:     escrows,
		submissions: submissions,
		disputes:    disputes,
		rails:       rails,
		gate:        gate,
		notifier:    notifier,
		log:         logrus.WithField("component", "settlement"),
	}
}

// CreateTask opens a task in pending_deposit. No rail interaction.
func (s *SettlementService) CreateTask(ctx context.Context, input *CreateTaskInput) (*models.Task, error) {
	if input.CreatorID == "" {
		return nil, apperrors.NewValidationError("creator id is required")
	}
	if input.Title == "" {
		return nil, apperrors.NewValidationError("title is required")
	}
	if input.TotalBudget <= 0 {
		return nil, apperrors.NewValidationError("total budget must be positive")
	}
	if _, ok := s.rails[input.PaymentMethod]; !ok {
		return nil, apperrors.NewValidationError("unsupported payment method: %s", input.PaymentMethod)
	}

	task := &models.Task{
		ID:              uuid.New().String(),
		CreatorID:       input.CreatorID,
		Title:           input.Title,
		Description:     input.Description,
		TotalBudget:     input.TotalBudget,
		PaymentMethod:   input.PaymentMethod,
		Status:          models.TaskStatusPendingDeposit,
		DeliverableType: input.DeliverableType,
		Deadline:        input.Deadline,
		RecipientHint:   input.RecipientHint,
	}

	if len(input.Milestones) > 0 {
		encoded, err := json.Marshal(input.Milestones)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid milestones: %v", err)
		}
		task.Milestones = string(encoded)
	}
	if input.VerificationCriteria != nil {
		encoded, err := json.Marshal(input.VerificationCriteria)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid verification criteria: %v", err)
		}
		task.VerificationCriteria = string(encoded)
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"budget":  task.TotalBudget,
		"method":  task.PaymentMethod,
	}).Info("task created")
	return task, nil
}

// DepositEscrow locks the full task budget on the task's rail. The amount
// must equal the budget exactly; partial escrows are not supported. On rail
// failure no escrow record is written and the task stays pending_deposit,
// so the caller can retry with a fresh proof.
func (s *SettlementService) DepositEscrow(ctx context.Context, taskID, depositorID string, amount int64, proof rail.DepositProof) (*models.Escrow, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if amount != task.TotalBudget {
		return nil, apperrors.NewValidationError(
			"deposit amount %d does not match task budget %d", amount, task.TotalBudget)
	}

	switch task.Status {
	case models.TaskStatusPendingDeposit:
	case models.TaskStatusActive:
		// Allowed only when no live escrow backs the task.
		if existing, err := s.escrows.GetByTaskID(ctx, taskID); err == nil && existing.Status == models.EscrowStatusLocked {
			return nil, apperrors.NewConflictError("task %s already has a locked escrow", taskID)
		}
	default:
		return nil, apperrors.NewConflictError("task %s is %s, cannot deposit", taskID, task.Status)
	}

	r, err := s.railFor(task.PaymentMethod)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	txID, err := r.Deposit(ctx, taskID, amount, proof)
	metrics.RailCallDuration.WithLabelValues(r.Name(), "deposit").Observe(time.Since(start).Seconds())
	if err != nil {
		if apperrors.IsAlreadyFinalized(err) {
			if existing, lookupErr := s.escrows.GetByTaskID(ctx, taskID); lookupErr == nil {
				return existing, nil
			}
			// Rail has the deposit but we never recorded it. Fall through
			// and write the record now.
		} else {
			metrics.DepositsTotal.WithLabelValues(r.Name(), "failure").Inc()
			return nil, err
		}
	}

	// The rail knows the depositor's refund address; record it now so a
	// later refund needs no caller input.
	senderAddress := ""
	if state, stateErr := r.GetEscrowState(ctx, taskID); stateErr == nil && state.Exists {
		senderAddress = state.Depositor
	}

	escrow := &models.Escrow{
		ID:                uuid.New().String(),
		TaskID:            taskID,
		DepositorID:       depositorID,
		Amount:            amount,
		PaymentMethod:     task.PaymentMethod,
		Status:            models.EscrowStatusLocked,
		DepositedAt:       time.Now(),
		SenderAddress:     senderAddress,
		RailTransactionID: txID,
	}

	if err := s.escrows.Create(ctx, escrow); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent deposit won the race between the check above
			// and this write; the unique task index keeps one escrow row.
			return nil, apperrors.NewConflictError("task %s already has an escrow", taskID)
		}
		return nil, apperrors.NewFatalError("deposit landed on rail but escrow record write failed", err)
	}

	err = s.updateTaskStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusPendingDeposit, models.TaskStatusActive},
		models.TaskStatusActive, nil)
	if err != nil && !errors.Is(err, repository.ErrNoRowsUpdated) {
		return nil, err
	}

	metrics.DepositsTotal.WithLabelValues(r.Name(), "success").Inc()
	s.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"escrow_id": escrow.ID,
		"amount":    amount,
		"tx_id":     txID,
	}).Info("escrow locked")
	s.notifier.Notify("escrow.deposited", task.CreatorID, map[string]interface{}{
		"task_id": taskID,
		"amount":  amount,
	})
	return escrow, nil
}

// SubmitWork records a deliverable attempt and moves the task to submitted.
// Re-submission after a rejection is allowed because rejection returns the
// task to active.
func (s *SettlementService) SubmitWork(ctx context.Context, taskID, submitterID, payloadRef, notes string) (*models.Submission, error) {
	if payloadRef == "" {
		return nil, apperrors.NewValidationError("payload reference is required")
	}

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusActive {
		return nil, apperrors.NewConflictError("task %s is %s, cannot submit work", taskID, task.Status)
	}

	submission := &models.Submission{
		ID:                 uuid.New().String(),
		TaskID:             taskID,
		SubmitterID:        submitterID,
		PayloadRef:         payloadRef,
		Notes:              notes,
		Status:             models.SubmissionStatusPending,
		VerificationStatus: models.VerificationStatusProcessing,
		SubmittedAt:        time.Now(),
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	err = s.updateTaskStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusActive}, models.TaskStatusSubmitted, nil)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"task_id":       taskID,
		"submission_id": submission.ID,
	}).Info("work submitted")
	s.notifier.Notify("submission.created", task.CreatorID, map[string]interface{}{
		"task_id":       taskID,
		"submission_id": submission.ID,
	})
	return submission, nil
}

// RunVerification sends the submission through the gate and records the
// verdict. Idempotent: a completed submission returns its stored result
// without re-invoking the judge. On judge unavailability the submission
// stays in processing so a later call can retry.
func (s *SettlementService) RunVerification(ctx context.Context, submissionID string) (*models.VerificationResult, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	if submission.VerificationStatus == models.VerificationStatusCompleted {
		var stored models.VerificationResult
		if err := json.Unmarshal([]byte(submission.VerificationResult), &stored); err != nil {
			return nil, apperrors.NewFatalError("completed submission has unreadable verification result", err)
		}
		return &stored, nil
	}
	if submission.VerificationStatus != models.VerificationStatusProcessing {
		return nil, apperrors.NewConflictError(
			"submission %s verification is %s, cannot run", submissionID, submission.VerificationStatus)
	}

	task, err := s.getTask(ctx, submission.TaskID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.gate.Verify(ctx, submission, task)
	metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// No state change: the submission stays processing for retry.
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, apperrors.NewFatalError("failed to encode verification result", err)
	}

	newStatus := models.SubmissionStatusRejected
	if result.Verdict == models.VerdictPassed {
		newStatus = models.SubmissionStatusApproved
	}

	err = s.submissions.SetVerificationOutcome(ctx, submissionID, newStatus,
		models.VerificationStatusCompleted, string(encoded))
	if err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			// A concurrent run finished first; return its stored verdict.
			return s.RunVerification(ctx, submissionID)
		}
		return nil, err
	}

	// Rejection reopens the task for another attempt.
	if newStatus == models.SubmissionStatusRejected {
		err = s.updateTaskStatus(ctx, submission.TaskID,
			[]models.TaskStatus{models.TaskStatusSubmitted}, models.TaskStatusActive, nil)
		if err != nil && !errors.Is(err, repository.ErrNoRowsUpdated) {
			return nil, err
		}
	}

	metrics.VerificationRunsTotal.WithLabelValues(result.Verdict).Inc()
	s.log.WithFields(logrus.Fields{
		"submission_id": submissionID,
		"verdict":       result.Verdict,
		"score":         result.Score,
	}).Info("verification recorded")
	s.notifier.Notify("verification.completed", submission.SubmitterID, map[string]interface{}{
		"submission_id": submissionID,
		"verdict":       result.Verdict,
	})
	return result, nil
}

// ReleasePayment pays the escrow out to the recipient. Requires the
// submission approved and the escrow still locked; the escrow status is
// re-read here, never trusted from the caller, so a refund that already won
// cannot be overridden.
func (s *SettlementService) ReleasePayment(ctx context.Context, submissionID, recipientAddress string) (*models.Escrow, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Status != models.SubmissionStatusApproved {
		return nil, apperrors.NewConflictError(
			"submission %s is %s, payment requires approval", submissionID, submission.Status)
	}

	task, err := s.getTask(ctx, submission.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusDisputed {
		return nil, apperrors.NewConflictError("task %s is disputed, settlement is frozen", task.ID)
	}
	return s.release(ctx, task, submission, recipientAddress)
}

// release performs the rail call and terminal bookkeeping shared by the
// normal path and dispute resolution.
func (s *SettlementService) release(ctx context.Context, task *models.Task, submission *models.Submission, recipientAddress string) (*models.Escrow, error) {
	escrow, err := s.getEscrowForTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	switch escrow.Status {
	case models.EscrowStatusReleased:
		return escrow, nil // idempotent no-op
	case models.EscrowStatusRefunded:
		return nil, apperrors.NewConflictError("escrow for task %s was already refunded", task.ID)
	}

	recipient := recipientAddress
	if recipient == "" {
		recipient = task.RecipientHint
	}
	if recipient == "" {
		return nil, apperrors.NewValidationError("no recipient address available for release")
	}

	r, err := s.railFor(escrow.PaymentMethod)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	txID, err := r.Release(ctx, task.ID, recipient)
	metrics.RailCallDuration.WithLabelValues(r.Name(), "release").Observe(time.Since(start).Seconds())
	if err != nil {
		if re, ok := apperrors.AsRailError(err); ok && re.Code == apperrors.RailAlreadyFinalized {
			if s.finalizedPhase(ctx, r, task.ID, re) == rail.PhaseRefunded {
				// The rail already sent the funds back to the depositor;
				// record that, not a release.
				if merr := s.escrows.MarkRefunded(ctx, escrow.ID, re.TxID, "rail reconciliation"); merr != nil && !errors.Is(merr, repository.ErrNoRowsUpdated) {
					return nil, apperrors.NewFatalError("rail shows refund but escrow record update failed", merr)
				}
				serr := s.updateTaskStatus(ctx, task.ID,
					[]models.TaskStatus{models.TaskStatusActive, models.TaskStatusSubmitted, models.TaskStatusDisputed},
					models.TaskStatusCancelled, map[string]interface{}{"cancel_reason": "rail reconciliation"})
				if serr != nil && !errors.Is(serr, repository.ErrNoRowsUpdated) {
					return nil, serr
				}
				return nil, apperrors.NewConflictError("escrow for task %s was already refunded", task.ID)
			}
			txID = re.TxID // converge below
		} else {
			metrics.ReleasesTotal.WithLabelValues(r.Name(), "failure").Inc()
			return nil, err
		}
	}

	if err := s.escrows.MarkReleased(ctx, escrow.ID, txID, recipient); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			// A concurrent settlement won; return the converged record.
			return s.escrows.GetByID(ctx, escrow.ID)
		}
		return nil, apperrors.NewFatalError("release landed on rail but escrow record update failed", err)
	}

	err = s.updateTaskStatus(ctx, task.ID,
		[]models.TaskStatus{models.TaskStatusSubmitted, models.TaskStatusActive, models.TaskStatusDisputed},
		models.TaskStatusCompleted, nil)
	if err != nil && !errors.Is(err, repository.ErrNoRowsUpdated) {
		return nil, err
	}

	metrics.ReleasesTotal.WithLabelValues(r.Name(), "success").Inc()
	s.log.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"escrow_id": escrow.ID,
		"recipient": recipient,
		"tx_id":     txID,
	}).Info("escrow released")
	s.notifier.Notify("escrow.released", submission.SubmitterID, map[string]interface{}{
		"task_id": task.ID,
		"amount":  escrow.Amount,
		"tx_id":   txID,
	})
	return s.escrows.GetByID(ctx, escrow.ID)
}

// CancelTask cancels a task that never received a deposit. Only the
// creator may cancel, and only while the task is pending_deposit: once
// funds are locked the money path goes through RefundEscrow instead.
func (s *SettlementService) CancelTask(ctx context.Context, taskID, callerID, reason string) (*models.Task, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != callerID {
		return nil, apperrors.NewValidationError("only the task creator can cancel task %s", taskID)
	}
	if task.Status != models.TaskStatusPendingDeposit {
		if task.Status == models.TaskStatusCancelled {
			return task, nil // idempotent no-op
		}
		return nil, apperrors.NewConflictError("task %s has a funded escrow, use refund instead", taskID)
	}
	if reason == "" {
		reason = "cancelled by creator"
	}

	err = s.updateTaskStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusPendingDeposit},
		models.TaskStatusCancelled, map[string]interface{}{"cancel_reason": reason})
	if err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return nil, apperrors.NewConflictError("task %s changed state during cancel", taskID)
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"reason":  reason,
	}).Info("task cancelled before deposit")
	return s.tasks.GetByID(ctx, taskID)
}

// RefundEscrow returns the locked funds to the depositor and cancels the
// task. Rejected while the task is disputed; dispute resolution uses its
// own path.
func (s *SettlementService) RefundEscrow(ctx context.Context, taskID, reason string) (*models.Escrow, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusDisputed {
		return nil, apperrors.NewConflictError("task %s is disputed, settlement is frozen", taskID)
	}
	if task.Status == models.TaskStatusCompleted {
		return nil, apperrors.NewConflictError("task %s is completed, cannot refund", taskID)
	}
	return s.refund(ctx, task, reason)
}

func (s *SettlementService) refund(ctx context.Context, task *models.Task, reason string) (*models.Escrow, error) {
	escrow, err := s.getEscrowForTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	switch escrow.Status {
	case models.EscrowStatusRefunded:
		return escrow, nil // idempotent no-op
	case models.EscrowStatusReleased:
		return nil, apperrors.NewConflictError("escrow for task %s was already released", task.ID)
	}

	r, err := s.railFor(escrow.PaymentMethod)
	if err != nil {
		return nil, err
	}

	trigger := "manual"
	if reason == "timeout" {
		trigger = "timeout"
	}

	start := time.Now()
	txID, err := r.Refund(ctx, task.ID)
	metrics.RailCallDuration.WithLabelValues(r.Name(), "refund").Observe(time.Since(start).Seconds())
	if err != nil {
		if re, ok := apperrors.AsRailError(err); ok && re.Code == apperrors.RailAlreadyFinalized {
			if s.finalizedPhase(ctx, r, task.ID, re) == rail.PhaseReleased {
				// The rail already paid the recipient; recording a refund
				// here would cancel a task whose funds are gone.
				if merr := s.escrows.MarkReleased(ctx, escrow.ID, re.TxID, ""); merr != nil && !errors.Is(merr, repository.ErrNoRowsUpdated) {
					return nil, apperrors.NewFatalError("rail shows release but escrow record update failed", merr)
				}
				serr := s.updateTaskStatus(ctx, task.ID,
					[]models.TaskStatus{models.TaskStatusActive, models.TaskStatusSubmitted, models.TaskStatusDisputed},
					models.TaskStatusCompleted, nil)
				if serr != nil && !errors.Is(serr, repository.ErrNoRowsUpdated) {
					return nil, serr
				}
				return nil, apperrors.NewConflictError("escrow for task %s was already released", task.ID)
			}
			txID = re.TxID
		} else {
			metrics.RefundsTotal.WithLabelValues(r.Name(), trigger, "failure").Inc()
			return nil, err
		}
	}

	if err := s.escrows.MarkRefunded(ctx, escrow.ID, txID, reason); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return s.escrows.GetByID(ctx, escrow.ID)
		}
		return nil, apperrors.NewFatalError("refund landed on rail but escrow record update failed", err)
	}

	err = s.updateTaskStatus(ctx, task.ID,
		[]models.TaskStatus{models.TaskStatusActive, models.TaskStatusSubmitted, models.TaskStatusDisputed},
		models.TaskStatusCancelled, map[string]interface{}{"cancel_reason": reason})
	if err != nil && !errors.Is(err, repository.ErrNoRowsUpdated) {
		return nil, err
	}

	metrics.RefundsTotal.WithLabelValues(r.Name(), trigger, "success").Inc()
	s.log.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"escrow_id": escrow.ID,
		"reason":    reason,
		"tx_id":     txID,
	}).Info("escrow refunded")
	s.notifier.Notify("escrow.refunded", escrow.DepositorID, map[string]interface{}{
		"task_id": task.ID,
		"amount":  escrow.Amount,
		"reason":  reason,
	})
	return s.escrows.GetByID(ctx, escrow.ID)
}

// OpenDispute freezes settlement on the task until a resolver decides.
func (s *SettlementService) OpenDispute(ctx context.Context, taskID, submissionID, openedBy, reason, description string) (*models.Dispute, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch task.Status {
	case models.TaskStatusActive, models.TaskStatusSubmitted:
	default:
		return nil, apperrors.NewConflictError("task %s is %s, cannot open dispute", taskID, task.Status)
	}

	if existing, err := s.disputes.GetOpenByTask(ctx, taskID); err == nil && existing != nil {
		return nil, apperrors.NewConflictError("task %s already has an open dispute", taskID)
	}

	dispute := &models.Dispute{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		SubmissionID: submissionID,
		OpenedBy:     openedBy,
		Reason:       reason,
		Description:  description,
		Status:       models.DisputeStatusOpen,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	err = s.updateTaskStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusActive, models.TaskStatusSubmitted},
		models.TaskStatusDisputed, nil)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"task_id":    taskID,
		"dispute_id": dispute.ID,
	}).Info("dispute opened, settlement frozen")
	s.notifier.Notify("dispute.opened", task.CreatorID, map[string]interface{}{
		"task_id":    taskID,
		"dispute_id": dispute.ID,
		"reason":     reason,
	})
	return dispute, nil
}

// Dispute resolution outcomes.
const (
	DisputeOutcomeRelease = "release"
	DisputeOutcomeRefund  = "refund"
)

// ResolveDispute closes an open dispute and routes the frozen escrow to
// release or refund. A release outcome approves the disputed submission
// first so the approval invariant holds on the resolved path too.
func (s *SettlementService) ResolveDispute(ctx context.Context, disputeID, outcome, resolution, recipientAddress string) (*models.Escrow, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("dispute", disputeID)
		}
		return nil, err
	}
	if dispute.Status != models.DisputeStatusOpen {
		return nil, apperrors.NewConflictError("dispute %s is already %s", disputeID, dispute.Status)
	}

	task, err := s.getTask(ctx, dispute.TaskID)
	if err != nil {
		return nil, err
	}

	var escrow *models.Escrow
	switch outcome {
	case DisputeOutcomeRelease:
		if dispute.SubmissionID == "" {
			return nil, apperrors.NewValidationError("dispute has no submission to release against")
		}
		submission, err := s.getSubmission(ctx, dispute.SubmissionID)
		if err != nil {
			return nil, err
		}
		if submission.Status != models.SubmissionStatusApproved {
			submission.Status = models.SubmissionStatusApproved
			submission.VerificationStatus = models.VerificationStatusCompleted
			if err := s.submissions.Update(ctx, submission); err != nil {
				return nil, err
			}
		}
		escrow, err = s.release(ctx, task, submission, recipientAddress)
		if err != nil {
			return nil, err
		}
	case DisputeOutcomeRefund:
		escrow, err = s.refund(ctx, task, "dispute resolved: "+resolution)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.NewValidationError("unknown dispute outcome: %s", outcome)
	}

	if err := s.disputes.Resolve(ctx, disputeID, models.DisputeStatusResolved, resolution); err != nil &&
		!errors.Is(err, repository.ErrNoRowsUpdated) {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"outcome":    outcome,
	}).Info("dispute resolved")
	return escrow, nil
}

func (s *SettlementService) getTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("task", taskID)
		}
		return nil, err
	}
	return task, nil
}

func (s *SettlementService) getSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("submission", submissionID)
		}
		return nil, err
	}
	return submission, nil
}

func (s *SettlementService) getEscrowForTask(ctx context.Context, taskID string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("escrow for task", taskID)
		}
		return nil, err
	}
	return escrow, nil
}

// finalizedPhase reports where an already-finalized escrow actually went:
// the phase the rail attached to the error when it knows it, otherwise a
// fresh rail-state query.
func (s *SettlementService) finalizedPhase(ctx context.Context, r rail.SettlementRail, taskID string, re *apperrors.RailError) rail.EscrowPhase {
	if re.Phase != "" {
		return rail.EscrowPhase(re.Phase)
	}
	if state, err := r.GetEscrowState(ctx, taskID); err == nil && state.Exists {
		return state.Phase
	}
	return rail.PhaseUnknown
}

func (s *SettlementService) railFor(method models.PaymentMethod) (rail.SettlementRail, error) {
	r, ok := s.rails[method]
	if !ok {
		return nil, apperrors.NewValidationError("no settlement rail for payment method %s", method)
	}
	return r, nil
}

func (s *SettlementService) updateTaskStatus(ctx context.Context, taskID string, from []models.TaskStatus, to models.TaskStatus, extra map[string]interface{}) error {
	return s.tasks.UpdateStatusGuarded(ctx, taskID, from, to, extra)
}
