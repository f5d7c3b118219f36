package repository

import (
	"context"

	"gorm.io/gorm"
)

type FeatureFlagRepository interface {
	LoadAll(ctx context.Context) (map[string]bool, error)
}

type GormFeatureFlagRepo struct {
	db *gorm.DB
}

func NewGormFeatureFlagRepo(db *gorm.DB) *GormFeatureFlagRepo {
	return &GormFeatureFlagRepo{db: db}
}

func (r *GormFeatureFlagRepo) LoadAll(ctx context.Context) (map[string]bool, error) {
	var models []FeatureFlagModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}

	flags := make(map[string]bool, len(models))
	for _, m := range models {
		flags[m.Key] = m.Enabled
	}
	return flags, nil
}
