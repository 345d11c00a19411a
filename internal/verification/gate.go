package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"escrow-backend/internal/apperrors"
	"escrow-backend/internal/clients"
	"escrow-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// Judge is the surface the gate needs from the model client.
type Judge interface {
	Review(ctx context.Context, prompt string) (*clients.JudgeVerdict, error)
	Ping(ctx context.Context) error
}

// Gate adapts the external judge into a pass/fail decision on a submission.
// It never defaults a verdict: any judge failure surfaces as
// ErrVerificationUnavailable so the caller can retry later instead of
// silently rejecting work.
type Gate struct {
	judge Judge
	log   *logrus.Entry
}

// NewGate builds a verification gate over the judge client.
func NewGate(judge Judge) *Gate {
	return &Gate{
		judge: judge,
		log:   logrus.WithField("component", "verification_gate"),
	}
}

// Verify reviews the submission against the task's acceptance requirements.
func (g *Gate) Verify(ctx context.Context, submission *models.Submission, task *models.Task) (*models.VerificationResult, error) {
	prompt := buildPrompt(submission, task)

	verdict, err := g.judge.Review(ctx, prompt)
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"submission_id": submission.ID,
			"task_id":       task.ID,
		}).WithError(err).Warn("judge call failed")
		return nil, fmt.Errorf("%w: %v", apperrors.ErrVerificationUnavailable, err)
	}

	result := &models.VerificationResult{
		Verdict:    models.VerdictFailed,
		Score:      verdict.Score,
		Summary:    verdict.Summary,
		Details:    verdict.Details,
		AnalyzedAt: time.Now().UTC(),
	}
	if verdict.Verdict {
		result.Verdict = models.VerdictPassed
	}
	if result.Summary == "" {
		result.Summary = verdict.Feedback
	}

	g.log.WithFields(logrus.Fields{
		"submission_id": submission.ID,
		"verdict":       result.Verdict,
		"score":         result.Score,
	}).Info("submission reviewed")
	return result, nil
}

// Ready checks the judge endpoint.
func (g *Gate) Ready(ctx context.Context) error {
	return g.judge.Ping(ctx)
}

func buildPrompt(submission *models.Submission, task *models.Task) string {
	var criteria strings.Builder
	var parsed models.VerificationCriteria
	if task.VerificationCriteria != "" && json.Unmarshal([]byte(task.VerificationCriteria), &parsed) == nil {
		for _, req := range parsed.Requirements {
			criteria.WriteString(req)
			criteria.WriteString("\n")
		}
		if parsed.AdditionalNotes != "" {
			criteria.WriteString("\nAdditional Notes:\n")
			criteria.WriteString(parsed.AdditionalNotes)
		}
	} else {
		criteria.WriteString(task.VerificationCriteria)
	}

	notes := submission.Notes
	if notes == "" {
		notes = "No notes provided"
	}

	return fmt.Sprintf(`You are an expert work quality verifier for escrowed tasks.

Task Title: %s
Task Description: %s

Verification Requirements:
%s

Submitted Work:
- Link: %s
- Type: %s
- Notes: %s

Analyze the submitted work against the task requirements. Provide:
1. A pass/fail verdict (true for pass, false for fail)
2. A score from 0-100
3. Brief summary of the review
4. Specific feedback on the submission
5. List of details (what passed, what failed)

Return ONLY a valid JSON object with keys: verdict (boolean), score (number), summary (string), feedback (string), details (array of strings).
Do not include markdown formatting.`,
		task.Title, task.Description, criteria.String(),
		submission.PayloadRef, task.DeliverableType, notes)
}
