package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/config"
	"escrow-backend/internal/models"
)

func newSweeperEnv(t *testing.T) (*testEnv, *fakeDeadLetterRepo, *EscrowTimeoutService) {
	t.Helper()
	env := newTestEnv()
	deadLetters := newFakeDeadLetterRepo()
	sweeper := NewEscrowTimeoutService(env.svc, env.tasks, env.escrows, deadLetters, &config.SweeperConfig{
		IntervalSeconds: 60,
		GraceDays:       7,
		MaxLockDays:     30,
	})
	return env, deadLetters, sweeper
}

func seedExpiredTask(t *testing.T, env *testEnv, deadline time.Time) {
	t.Helper()
	task := seedTask(t, env, models.TaskStatusActive, 1000)
	task.Deadline = &deadline
	if err := env.tasks.Update(context.Background(), task); err != nil {
		t.Fatalf("seed deadline: %v", err)
	}
	seedEscrow(t, env, models.EscrowStatusLocked)
}

func TestSweeper_RefundsPastDeadlinePlusGrace(t *testing.T) {
	t.Parallel()
	env, _, sweeper := newSweeperEnv(t)
	// Deadline 8 days ago, grace 7 days: expired yesterday.
	seedExpiredTask(t, env, time.Now().Add(-8*24*time.Hour))

	refunded := sweeper.RunPass(context.Background())
	if refunded != 1 {
		t.Fatalf("expected 1 refund, got %d", refunded)
	}

	escrow, _ := env.escrows.GetByTaskID(context.Background(), "task-1")
	if escrow.Status != models.EscrowStatusRefunded {
		t.Fatalf("expected refunded, got %s", escrow.Status)
	}
	if escrow.RefundReason != "timeout" {
		t.Fatalf("refund reason must be timeout, got %q", escrow.RefundReason)
	}
	task, _ := env.tasks.GetByID(context.Background(), "task-1")
	if task.Status != models.TaskStatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}
}

func TestSweeper_LeavesEscrowsInsideGraceWindow(t *testing.T) {
	t.Parallel()
	env, _, sweeper := newSweeperEnv(t)
	// Deadline 3 days ago, grace 7 days: still inside the window.
	seedExpiredTask(t, env, time.Now().Add(-3*24*time.Hour))

	if refunded := sweeper.RunPass(context.Background()); refunded != 0 {
		t.Fatalf("expected no refunds, got %d", refunded)
	}
	escrow, _ := env.escrows.GetByTaskID(context.Background(), "task-1")
	if escrow.Status != models.EscrowStatusLocked {
		t.Fatalf("escrow must stay locked, got %s", escrow.Status)
	}
}

func TestSweeper_UsesMaxLockWhenNoDeadline(t *testing.T) {
	t.Parallel()
	env, _, sweeper := newSweeperEnv(t)
	seedTask(t, env, models.TaskStatusActive, 1000)
	escrow := seedEscrow(t, env, models.EscrowStatusLocked)
	env.escrows.forceDepositedAt(escrow.ID, time.Now().Add(-31*24*time.Hour))

	if refunded := sweeper.RunPass(context.Background()); refunded != 1 {
		t.Fatalf("expected 1 refund past max lock, got %d", refunded)
	}
}

func TestSweeper_SkipsCompletedTasks(t *testing.T) {
	t.Parallel()
	env, _, sweeper := newSweeperEnv(t)
	task := seedTask(t, env, models.TaskStatusCompleted, 1000)
	deadline := time.Now().Add(-60 * 24 * time.Hour)
	task.Deadline = &deadline
	if err := env.tasks.Update(context.Background(), task); err != nil {
		t.Fatalf("seed deadline: %v", err)
	}
	seedEscrow(t, env, models.EscrowStatusLocked)

	if refunded := sweeper.RunPass(context.Background()); refunded != 0 {
		t.Fatalf("completed tasks are settled, expected no refunds, got %d", refunded)
	}
	if env.railFake.refundCalls != 0 {
		t.Fatalf("rail must not be touched for completed tasks")
	}
}

func TestSweeper_DisputedTaskIsSkippedNotFailed(t *testing.T) {
	t.Parallel()
	env, deadLetters, sweeper := newSweeperEnv(t)
	seedExpiredTask(t, env, time.Now().Add(-10*24*time.Hour))
	if _, err := env.svc.OpenDispute(context.Background(), "task-1", "", "dev-1", "payment", ""); err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}

	if refunded := sweeper.RunPass(context.Background()); refunded != 0 {
		t.Fatalf("disputed task must not be refunded, got %d", refunded)
	}
	if _, err := deadLetters.GetByTaskID(context.Background(), "task-1"); err == nil {
		t.Fatalf("a frozen dispute is not a sweeper failure")
	}
}

func TestSweeper_SkipDoesNotCloseDeadLetter(t *testing.T) {
	t.Parallel()
	env, deadLetters, sweeper := newSweeperEnv(t)
	seedExpiredTask(t, env, time.Now().Add(-10*24*time.Hour))
	env.railFake.refundFn = func(string) (string, error) {
		return "", apperrors.NewRailError("token", apperrors.RailUnavailable, errors.New("ledger down"))
	}
	sweeper.RunPass(context.Background())

	// The dispute freezes the task; the next pass skips it, and the
	// pending record must stay open because no refund happened.
	if _, err := env.svc.OpenDispute(context.Background(), "task-1", "", "dev-1", "payment", ""); err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	if refunded := sweeper.RunPass(context.Background()); refunded != 0 {
		t.Fatalf("skipped task counted as refunded: %d", refunded)
	}

	record, err := deadLetters.GetByTaskID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("expected dead-letter record: %v", err)
	}
	if record.Status != models.DeadLetterStatusPending {
		t.Fatalf("skip must not close the dead letter, got %s", record.Status)
	}
	if record.AttemptCount != 1 {
		t.Fatalf("skip must not count as an attempt, got %d", record.AttemptCount)
	}
}

func TestSweeper_DeadLettersRailFailures(t *testing.T) {
	t.Parallel()
	env, deadLetters, sweeper := newSweeperEnv(t)
	seedExpiredTask(t, env, time.Now().Add(-10*24*time.Hour))
	env.railFake.refundFn = func(string) (string, error) {
		return "", apperrors.NewRailError("token", apperrors.RailUnavailable, errors.New("ledger down"))
	}

	sweeper.RunPass(context.Background())
	sweeper.RunPass(context.Background())

	record, err := deadLetters.GetByTaskID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("expected dead-letter record: %v", err)
	}
	if record.Status != models.DeadLetterStatusPending {
		t.Fatalf("expected pending, got %s", record.Status)
	}
	if record.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", record.AttemptCount)
	}
}

func TestSweeper_RecoversDeadLetterOnLaterSuccess(t *testing.T) {
	t.Parallel()
	env, deadLetters, sweeper := newSweeperEnv(t)
	seedExpiredTask(t, env, time.Now().Add(-10*24*time.Hour))

	failing := true
	env.railFake.refundFn = func(taskID string) (string, error) {
		if failing {
			return "", apperrors.NewRailError("token", apperrors.RailUnavailable, errors.New("ledger down"))
		}
		return "ref-tx-" + taskID, nil
	}

	sweeper.RunPass(context.Background())
	failing = false
	if refunded := sweeper.RunPass(context.Background()); refunded != 1 {
		t.Fatalf("expected refund on recovery pass, got %d", refunded)
	}

	record, err := deadLetters.GetByTaskID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("dead-letter record: %v", err)
	}
	if record.Status != models.DeadLetterStatusRecovered {
		t.Fatalf("expected recovered, got %s", record.Status)
	}
}

func TestSweeper_AbandonsAfterAttemptBudget(t *testing.T) {
	t.Parallel()
	env, deadLetters, sweeper := newSweeperEnv(t)
	seedExpiredTask(t, env, time.Now().Add(-10*24*time.Hour))
	env.railFake.refundFn = func(string) (string, error) {
		return "", apperrors.NewRailError("token", apperrors.RailUnavailable, errors.New("ledger down"))
	}

	for i := 0; i < 12; i++ {
		sweeper.RunPass(context.Background())
	}

	record, err := deadLetters.GetByTaskID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("dead-letter record: %v", err)
	}
	if record.Status != models.DeadLetterStatusAbandoned {
		t.Fatalf("expected abandoned after budget, got %s", record.Status)
	}
	if record.LastError == "" {
		t.Fatalf("last error must be recorded")
	}
}
