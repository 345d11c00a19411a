package repository

import (
	"context"

	"escrow-backend/internal/models"

	"gorm.io/gorm"
)

// TokenRailEscrowRepository defines data access for the token rail's own
// durable escrow records. The rail adapter is its only consumer.
type TokenRailEscrowRepository interface {
	Create(ctx context.Context, record *models.TokenRailEscrow) error
	GetByTaskID(ctx context.Context, taskID string) (*models.TokenRailEscrow, error)
	Save(ctx context.Context, record *models.TokenRailEscrow) error
}

type tokenRailEscrowRepository struct {
	db *gorm.DB
}

// NewTokenRailEscrowRepository creates a gorm-backed TokenRailEscrowRepository.
func NewTokenRailEscrowRepository(db *gorm.DB) TokenRailEscrowRepository {
	return &tokenRailEscrowRepository{db: db}
}

func (r *tokenRailEscrowRepository) Create(ctx context.Context, record *models.TokenRailEscrow) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *tokenRailEscrowRepository) GetByTaskID(ctx context.Context, taskID string) (*models.TokenRailEscrow, error) {
	var record models.TokenRailEscrow
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *tokenRailEscrowRepository) Save(ctx context.Context, record *models.TokenRailEscrow) error {
	return r.db.WithContext(ctx).Save(record).Error
}
