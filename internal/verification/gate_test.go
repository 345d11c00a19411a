package verification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/clients"
	"escrow-backend/internal/models"
)

type fakeJudge struct {
	verdict *clients.JudgeVerdict
	err     error
	prompt  string
}

func (f *fakeJudge) Review(_ context.Context, prompt string) (*clients.JudgeVerdict, error) {
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func (f *fakeJudge) Ping(_ context.Context) error { return f.err }

func testTask() *models.Task {
	return &models.Task{
		ID:                   "task-1",
		Title:                "Build an importer",
		Description:          "CSV to Postgres",
		DeliverableType:      "github_pr",
		VerificationCriteria: `{"requirements":["handles quoted fields","has tests"],"quality_threshold":0.8,"additional_notes":"prefer streaming"}`,
	}
}

func testSubmission() *models.Submission {
	return &models.Submission{
		ID:         "sub-1",
		TaskID:     "task-1",
		PayloadRef: "https://repo/pr/42",
		Notes:      "streaming parser added",
	}
}

func TestVerify_PassVerdict(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{verdict: &clients.JudgeVerdict{
		Verdict: true,
		Score:   91,
		Summary: "meets all requirements",
		Details: []string{"quoted fields ok", "tests present"},
	}}
	gate := NewGate(judge)

	result, err := gate.Verify(context.Background(), testSubmission(), testTask())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Verdict != models.VerdictPassed {
		t.Fatalf("expected passed, got %s", result.Verdict)
	}
	if result.Score != 91 {
		t.Fatalf("expected score 91, got %d", result.Score)
	}
	if result.AnalyzedAt.IsZero() {
		t.Fatalf("analyzed_at not set")
	}
}

func TestVerify_FailVerdictUsesFeedbackWhenSummaryEmpty(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{verdict: &clients.JudgeVerdict{
		Verdict:  false,
		Score:    35,
		Feedback: "no tests for quoted fields",
	}}
	gate := NewGate(judge)

	result, err := gate.Verify(context.Background(), testSubmission(), testTask())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Verdict != models.VerdictFailed {
		t.Fatalf("expected failed, got %s", result.Verdict)
	}
	if result.Summary != "no tests for quoted fields" {
		t.Fatalf("expected feedback as summary, got %q", result.Summary)
	}
}

func TestVerify_JudgeErrorNeverDefaultsVerdict(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{err: errors.New("connection refused")}
	gate := NewGate(judge)

	result, err := gate.Verify(context.Background(), testSubmission(), testTask())
	if result != nil {
		t.Fatalf("no verdict may be produced on judge failure")
	}
	if !errors.Is(err, apperrors.ErrVerificationUnavailable) {
		t.Fatalf("expected ErrVerificationUnavailable, got %v", err)
	}
}

func TestBuildPrompt_IncludesCriteriaAndDeliverable(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{verdict: &clients.JudgeVerdict{Verdict: true, Score: 80}}
	gate := NewGate(judge)

	if _, err := gate.Verify(context.Background(), testSubmission(), testTask()); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	for _, want := range []string{
		"handles quoted fields",
		"prefer streaming",
		"https://repo/pr/42",
		"github_pr",
		"streaming parser added",
	} {
		if !strings.Contains(judge.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_RawCriteriaFallback(t *testing.T) {
	t.Parallel()
	judge := &fakeJudge{verdict: &clients.JudgeVerdict{Verdict: true, Score: 80}}
	gate := NewGate(judge)

	task := testTask()
	task.VerificationCriteria = "must compile and pass CI"
	if _, err := gate.Verify(context.Background(), testSubmission(), task); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !strings.Contains(judge.prompt, "must compile and pass CI") {
		t.Fatalf("non-JSON criteria must be passed through verbatim")
	}
}
