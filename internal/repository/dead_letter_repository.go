package repository

import (
	"context"

	"escrow-backend/internal/models"

	"gorm.io/gorm"
)

// DeadLetterRepository defines data access for failed refund records.
type DeadLetterRepository interface {
	Upsert(ctx context.Context, record *models.DeadLetterRefund) error
	GetByTaskID(ctx context.Context, taskID string) (*models.DeadLetterRefund, error)
	ListPending(ctx context.Context, limit int) ([]*models.DeadLetterRefund, error)
	Update(ctx context.Context, record *models.DeadLetterRefund) error
}

type deadLetterRepository struct {
	db *gorm.DB
}

// NewDeadLetterRepository creates a gorm-backed DeadLetterRepository.
func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{db: db}
}

// Upsert creates the record on first failure or persists the updated attempt
// state on subsequent failures. One record per task.
func (r *deadLetterRepository) Upsert(ctx context.Context, record *models.DeadLetterRefund) error {
	if record.ID != "" {
		return r.db.WithContext(ctx).Save(record).Error
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *deadLetterRepository) GetByTaskID(ctx context.Context, taskID string) (*models.DeadLetterRefund, error) {
	var record models.DeadLetterRefund
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *deadLetterRepository) ListPending(ctx context.Context, limit int) ([]*models.DeadLetterRefund, error) {
	var records []*models.DeadLetterRefund
	err := r.db.WithContext(ctx).
		Where("status = ?", models.DeadLetterStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *deadLetterRepository) Update(ctx context.Context, record *models.DeadLetterRefund) error {
	return r.db.WithContext(ctx).Save(record).Error
}
