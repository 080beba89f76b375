package repository

import (
	"context"

	"dealflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatusInterface interface {
	Upsert(ctx context.Context, status *model.WorkerStatus) error
	MarkStopped(ctx context.Context, instanceID string) error
	Get(ctx context.Context) (*model.WorkerStatus, error)
}

type StatusRepository struct {
	db *gorm.DB
}

func NewStatusRepository(db *gorm.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Upsert overwrites the singleton heartbeat row wholesale. Single writer, so
// no merge logic is needed.
func (r *StatusRepository) Upsert(ctx context.Context, status *model.WorkerStatus) error {
	status.ID = 1
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(status).Error
}

func (r *StatusRepository) MarkStopped(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).Model(&model.WorkerStatus{}).
		Where("id = ? AND instance_id = ?", 1, instanceID).
		Update("running", false).Error
}

func (r *StatusRepository) Get(ctx context.Context) (*model.WorkerStatus, error) {
	var status model.WorkerStatus
	if err := r.db.WithContext(ctx).First(&status, 1).Error; err != nil {
		return nil, err
	}
	return &status, nil
}
