package models

import "testing"

func TestRecordFailure_DefaultsAndCounts(t *testing.T) {
	t.Parallel()

	record := &DeadLetterRefund{ID: "dl-1", TaskID: "task-1", EscrowID: "escrow-1"}
	record.RecordFailure("ledger down")

	if record.Status != DeadLetterStatusPending {
		t.Fatalf("fresh record must be pending, got %s", record.Status)
	}
	if record.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", record.AttemptCount)
	}
	if record.LastError != "ledger down" {
		t.Fatalf("last error not recorded: %q", record.LastError)
	}
}

func TestRecordFailure_AbandonsAtBudget(t *testing.T) {
	t.Parallel()

	record := &DeadLetterRefund{ID: "dl-1", TaskID: "task-1", EscrowID: "escrow-1", MaxAttempts: 3}
	record.RecordFailure("first")
	record.RecordFailure("second")
	if record.Status != DeadLetterStatusPending {
		t.Fatalf("still within budget, got %s", record.Status)
	}

	record.RecordFailure("third")
	if record.Status != DeadLetterStatusAbandoned {
		t.Fatalf("expected abandoned at budget, got %s", record.Status)
	}
	if record.ResolvedAt == nil {
		t.Fatalf("resolved_at must be stamped on abandonment")
	}
}

func TestMarkRecovered(t *testing.T) {
	t.Parallel()

	record := &DeadLetterRefund{ID: "dl-1", Status: DeadLetterStatusPending, AttemptCount: 4}
	record.MarkRecovered()
	if record.Status != DeadLetterStatusRecovered {
		t.Fatalf("expected recovered, got %s", record.Status)
	}
	if record.ResolvedAt == nil {
		t.Fatalf("resolved_at must be stamped on recovery")
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	open := []TaskStatus{TaskStatusPendingDeposit, TaskStatusActive, TaskStatusSubmitted, TaskStatusDisputed}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
