package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/config"
	"escrow-backend/internal/metrics"
	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EscrowTimeoutService sweeps locked escrows whose funding window has
// expired and refunds them through the settlement service, so timeout
// refunds obey exactly the same invariants as manual ones. Refund failures
// go to the dead-letter table for manual follow-up; the next pass retries
// naturally, so transient rail outages self-heal.
type EscrowTimeoutService struct {
	settlement  *SettlementService
	tasks       repository.TaskRepository
	escrows     repository.EscrowRepository
	deadLetters repository.DeadLetterRepository
	cfg         *config.SweeperConfig

	running  bool
	stopCh   chan struct{}
	passLock sync.Mutex // single-flight guard across triggers
	log      *logrus.Entry
}

// NewEscrowTimeoutService creates the sweeper.
func NewEscrowTimeoutService(
	settlement *SettlementService,
	tasks repository.TaskRepository,
	escrows repository.EscrowRepository,
	deadLetters repository.DeadLetterRepository,
	cfg *config.SweeperConfig,
) *EscrowTimeoutService {
	return &EscrowTimeoutService{
		settlement:  settlement,
		tasks:       tasks,
		escrows:     escrows,
		deadLetters: deadLetters,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		log:         logrus.WithField("component", "timeout_sweeper"),
	}
}

// Start begins the sweep loop.
func (s *EscrowTimeoutService) Start() {
	if s.running {
		return
	}
	s.running = true

	s.log.WithFields(logrus.Fields{
		"interval": s.cfg.SweepInterval(),
		"grace":    s.cfg.GracePeriod(),
		"max_lock": s.cfg.MaxLockDuration(),
	}).Info("timeout sweeper starting")

	go s.sweepLoop()
}

// Stop gracefully stops the sweep loop.
func (s *EscrowTimeoutService) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.log.Info("timeout sweeper stopped")
}

func (s *EscrowTimeoutService) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	// Initial pass on startup.
	s.RunPass(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunPass(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunPass executes one sweep. It is also invoked by the operator trigger
// endpoint; the single-flight guard ensures a manual trigger never overlaps
// a scheduled pass. Returns the number of refunds performed.
func (s *EscrowTimeoutService) RunPass(ctx context.Context) int {
	if !s.passLock.TryLock() {
		s.log.Debug("sweep already in progress, skipping")
		return 0
	}
	defer s.passLock.Unlock()

	start := time.Now()
	defer func() {
		metrics.SweeperPassDuration.Observe(time.Since(start).Seconds())
		metrics.SweeperPassesTotal.Inc()
	}()

	locked, err := s.escrows.ListLocked(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to list locked escrows")
		return 0
	}
	metrics.LockedEscrows.Set(float64(len(locked)))

	now := time.Now()
	refunded := 0
	for _, escrow := range locked {
		task, err := s.tasks.GetByID(ctx, escrow.TaskID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.log.WithField("escrow_id", escrow.ID).Error("locked escrow has no task")
			} else {
				s.log.WithField("escrow_id", escrow.ID).WithError(err).Warn("failed to load task")
			}
			continue
		}

		// Completed tasks are settled; their escrow transitions are owned
		// by the release path regardless of deadlines.
		if task.Status == models.TaskStatusCompleted {
			continue
		}

		expiry := s.expiryFor(task, escrow)
		if !now.After(expiry) {
			continue
		}

		s.log.WithFields(logrus.Fields{
			"task_id":   task.ID,
			"escrow_id": escrow.ID,
			"expired":   expiry,
		}).Info("escrow lock expired, refunding")

		if err := s.refundExpired(ctx, task, escrow); err != nil {
			if errors.Is(err, errSweepSkipped) {
				continue
			}
			metrics.SweeperRefundsTotal.WithLabelValues("failure").Inc()
			s.recordFailure(ctx, task, escrow, err)
			continue
		}
		metrics.SweeperRefundsTotal.WithLabelValues("success").Inc()
		refunded++
		s.closeDeadLetter(ctx, task.ID)
	}

	if refunded > 0 {
		s.log.WithField("refunded", refunded).Info("sweep pass completed")
	}
	s.updateDeadLetterGauge(ctx)
	return refunded
}

// expiryFor computes when a locked escrow becomes refundable: the task
// deadline plus the grace window when a deadline exists, otherwise the
// deposit time plus the maximum lock duration.
func (s *EscrowTimeoutService) expiryFor(task *models.Task, escrow *models.Escrow) time.Time {
	if task.Deadline != nil {
		return task.Deadline.Add(s.cfg.GracePeriod())
	}
	return escrow.DepositedAt.Add(s.cfg.MaxLockDuration())
}

// errSweepSkipped marks an escrow the pass left alone: no refund happened,
// but nothing failed either.
var errSweepSkipped = errors.New("sweep skipped")

// refundExpired routes through the settlement service. A concurrent
// settlement or an open dispute shows up as a conflict, which is a skip,
// not a refund and not a failure.
func (s *EscrowTimeoutService) refundExpired(ctx context.Context, task *models.Task, escrow *models.Escrow) error {
	_, err := s.settlement.RefundEscrow(ctx, task.ID, "timeout")
	if err == nil {
		return nil
	}

	var conflict *apperrors.ConflictError
	if errors.As(err, &conflict) {
		// Disputed or just settled; not ours to handle.
		s.log.WithField("task_id", task.ID).WithError(err).Debug("skipping refund")
		return errSweepSkipped
	}
	return err
}

// recordFailure upserts a dead-letter record so operators can follow up.
// One record per task, with an attempt budget.
func (s *EscrowTimeoutService) recordFailure(ctx context.Context, task *models.Task, escrow *models.Escrow, cause error) {
	record, err := s.deadLetters.GetByTaskID(ctx, task.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithField("task_id", task.ID).WithError(err).Error("failed to load dead-letter record")
			return
		}
		record = &models.DeadLetterRefund{
			ID:       uuid.New().String(),
			TaskID:   task.ID,
			EscrowID: escrow.ID,
		}
	}

	record.RecordFailure(cause.Error())
	if err := s.deadLetters.Upsert(ctx, record); err != nil {
		s.log.WithField("task_id", task.ID).WithError(err).Error("failed to write dead-letter record")
		return
	}

	s.log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"attempts": record.AttemptCount,
		"status":   record.Status,
	}).Warn("refund failed, dead-lettered")
}

// closeDeadLetter marks an earlier failure recovered once a refund lands.
func (s *EscrowTimeoutService) closeDeadLetter(ctx context.Context, taskID string) {
	record, err := s.deadLetters.GetByTaskID(ctx, taskID)
	if err != nil || record.Status != models.DeadLetterStatusPending {
		return
	}
	record.MarkRecovered()
	if err := s.deadLetters.Update(ctx, record); err != nil {
		s.log.WithField("task_id", taskID).WithError(err).Warn("failed to close dead-letter record")
	}
}

func (s *EscrowTimeoutService) updateDeadLetterGauge(ctx context.Context) {
	pending, err := s.deadLetters.ListPending(ctx, 1000)
	if err != nil {
		return
	}
	metrics.DeadLetterPending.Set(float64(len(pending)))
}
