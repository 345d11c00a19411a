package repository

import (
	"context"
	"errors"
	"fmt"

	"escrow-backend/internal/models"

	"gorm.io/gorm"
)

// ErrNoRowsUpdated is returned by guarded updates when the precondition row
// was not found, typically because another writer won the race.
var ErrNoRowsUpdated = errors.New("no rows updated")

// TaskRepository defines data access for tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, limit int) ([]*models.Task, error)
	ListByCreator(ctx context.Context, creatorID string, limit int) ([]*models.Task, error)
	Update(ctx context.Context, task *models.Task) error

	// UpdateStatusGuarded moves a task from one of fromStatuses to toStatus,
	// applying extra column updates in the same statement. Returns
	// ErrNoRowsUpdated when the task is no longer in an expected status.
	UpdateStatusGuarded(ctx context.Context, id string, fromStatuses []models.TaskStatus, toStatus models.TaskStatus, extra map[string]interface{}) error
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a gorm-backed TaskRepository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) List(ctx context.Context, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepository) ListByCreator(ctx context.Context, creatorID string, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *taskRepository) UpdateStatusGuarded(ctx context.Context, id string, fromStatuses []models.TaskStatus, toStatus models.TaskStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": gorm.Expr("NOW()"),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update task status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}
