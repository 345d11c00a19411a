package repository

import (
	"context"
	"fmt"
	"time"

	"escrow-backend/internal/models"

	"gorm.io/gorm"
)

// EscrowRepository defines data access for escrow records.
type EscrowRepository interface {
	Create(ctx context.Context, escrow *models.Escrow) error
	GetByID(ctx context.Context, id string) (*models.Escrow, error)
	GetByTaskID(ctx context.Context, taskID string) (*models.Escrow, error)
	ListByDepositor(ctx context.Context, depositorID string, limit int) ([]*models.Escrow, error)
	ListLocked(ctx context.Context) ([]*models.Escrow, error)

	// MarkReleased moves a locked escrow to released exactly once, recording
	// the rail transaction id and recipient. Returns ErrNoRowsUpdated when
	// the escrow is no longer locked.
	MarkReleased(ctx context.Context, id string, txID string, recipient string) error

	// MarkRefunded moves a locked escrow to refunded exactly once. Returns
	// ErrNoRowsUpdated when the escrow is no longer locked.
	MarkRefunded(ctx context.Context, id string, txID string, reason string) error
}

type escrowRepository struct {
	db *gorm.DB
}

// NewEscrowRepository creates a gorm-backed EscrowRepository.
func NewEscrowRepository(db *gorm.DB) EscrowRepository {
	return &escrowRepository{db: db}
}

func (r *escrowRepository) Create(ctx context.Context, escrow *models.Escrow) error {
	return r.db.WithContext(ctx).Create(escrow).Error
}

func (r *escrowRepository) GetByID(ctx context.Context, id string) (*models.Escrow, error) {
	var escrow models.Escrow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&escrow).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (r *escrowRepository) GetByTaskID(ctx context.Context, taskID string) (*models.Escrow, error) {
	var escrow models.Escrow
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&escrow).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (r *escrowRepository) ListByDepositor(ctx context.Context, depositorID string, limit int) ([]*models.Escrow, error) {
	var escrows []*models.Escrow
	err := r.db.WithContext(ctx).
		Where("depositor_id = ?", depositorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

func (r *escrowRepository) ListLocked(ctx context.Context) ([]*models.Escrow, error) {
	var escrows []*models.Escrow
	err := r.db.WithContext(ctx).
		Where("status = ?", models.EscrowStatusLocked).
		Order("deposited_at ASC").
		Find(&escrows).Error
	return escrows, err
}

func (r *escrowRepository) MarkReleased(ctx context.Context, id string, txID string, recipient string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ? AND status = ?", id, models.EscrowStatusLocked).
		Updates(map[string]interface{}{
			"status":              models.EscrowStatusReleased,
			"rail_transaction_id": txID,
			"recipient_address":   recipient,
			"released_at":         &now,
			"updated_at":          now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark escrow released: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func (r *escrowRepository) MarkRefunded(ctx context.Context, id string, txID string, reason string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ? AND status = ?", id, models.EscrowStatusLocked).
		Updates(map[string]interface{}{
			"status":              models.EscrowStatusRefunded,
			"rail_transaction_id": txID,
			"refund_reason":       reason,
			"refunded_at":         &now,
			"updated_at":          now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark escrow refunded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}
