package repository

import (
	"context"

	"dealflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsInterface interface {
	GetNamespace(ctx context.Context, prefix string) ([]model.Setting, error)
	Put(ctx context.Context, key, value string) error
}

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetNamespace reads every key under prefix in one query; the reload loop
// decodes the batch into a fresh snapshot.
func (r *SettingsRepository) GetNamespace(ctx context.Context, prefix string) ([]model.Setting, error) {
	var settings []model.Setting
	err := r.db.WithContext(ctx).
		Where("`key` LIKE ?", prefix+"%").
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *SettingsRepository) Put(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
}
