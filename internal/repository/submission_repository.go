package repository

import (
	"context"
	"fmt"

	"escrow-backend/internal/models"

	"gorm.io/gorm"
)

// SubmissionRepository defines data access for work submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	ListByTask(ctx context.Context, taskID string) ([]*models.Submission, error)
	GetLatestByTask(ctx context.Context, taskID string) (*models.Submission, error)
	Update(ctx context.Context, submission *models.Submission) error

	// SetVerificationOutcome records the judge outcome and the resulting
	// submission status for a submission in processing.
	SetVerificationOutcome(ctx context.Context, id string, status models.SubmissionStatus, verifStatus models.VerificationStatus, resultJSON string) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository creates a gorm-backed SubmissionRepository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Submission, error) {
	var submissions []*models.Submission
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("submitted_at DESC").
		Find(&submissions).Error
	return submissions, err
}

func (r *submissionRepository) GetLatestByTask(ctx context.Context, taskID string) (*models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("submitted_at DESC").
		First(&submission).Error
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}

func (r *submissionRepository) SetVerificationOutcome(ctx context.Context, id string, status models.SubmissionStatus, verifStatus models.VerificationStatus, resultJSON string) error {
	updates := map[string]interface{}{
		"status":              status,
		"verification_status": verifStatus,
		"updated_at":          gorm.Expr("NOW()"),
	}
	if resultJSON != "" {
		updates["verification_result"] = resultJSON
	}

	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND verification_status = ?", id, models.VerificationStatusProcessing).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to record verification outcome: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}
