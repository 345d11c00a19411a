package repository

import (
	"context"
	"fmt"

	"escrow-backend/internal/models"

	"gorm.io/gorm"
)

// DisputeRepository defines data access for disputes.
type DisputeRepository interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id string) (*models.Dispute, error)
	GetOpenByTask(ctx context.Context, taskID string) (*models.Dispute, error)
	ListByTask(ctx context.Context, taskID string) ([]*models.Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]*models.Dispute, error)

	// Resolve closes an open dispute with the given terminal status and
	// resolution note. Returns ErrNoRowsUpdated when the dispute is not open.
	Resolve(ctx context.Context, id string, status models.DisputeStatus, resolution string) error
}

type disputeRepository struct {
	db *gorm.DB
}

// NewDisputeRepository creates a gorm-backed DisputeRepository.
func NewDisputeRepository(db *gorm.DB) DisputeRepository {
	return &disputeRepository{db: db}
}

func (r *disputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *disputeRepository) GetByID(ctx context.Context, id string) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) GetOpenByTask(ctx context.Context, taskID string) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND status = ?", taskID, models.DisputeStatusOpen).
		First(&dispute).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Dispute, error) {
	var disputes []*models.Dispute
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Find(&disputes).Error
	return disputes, err
}

func (r *disputeRepository) ListOpen(ctx context.Context, limit int) ([]*models.Dispute, error) {
	var disputes []*models.Dispute
	err := r.db.WithContext(ctx).
		Where("status = ?", models.DisputeStatusOpen).
		Order("created_at ASC").
		Limit(limit).
		Find(&disputes).Error
	return disputes, err
}

func (r *disputeRepository) Resolve(ctx context.Context, id string, status models.DisputeStatus, resolution string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, models.DisputeStatusOpen).
		Updates(map[string]interface{}{
			"status":     status,
			"resolution": resolution,
			"updated_at": gorm.Expr("NOW()"),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to resolve dispute: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}
