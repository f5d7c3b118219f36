package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createFeatureFlagsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_feature_flags",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FeatureFlagModel{}); err != nil {
				return err
			}
			return tx.Exec(`INSERT INTO feature_flags (key, enabled, updated_at) VALUES ('whatsapp_broadcasts', true, NOW()) ON CONFLICT (key) DO NOTHING`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FeatureFlagModel{})
		},
	}
}
