package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createBroadcastsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_whatsapp_broadcasts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BroadcastModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_whatsapp_broadcasts_scheduled_due ON whatsapp_broadcasts (scheduled_at) WHERE status = 'scheduled'`,
				`CREATE INDEX IF NOT EXISTS idx_whatsapp_broadcasts_running_lease ON whatsapp_broadcasts (last_processing_at) WHERE status = 'running'`,
				`CREATE INDEX IF NOT EXISTS idx_whatsapp_broadcasts_user_id ON whatsapp_broadcasts (user_id) WHERE user_id IS NOT NULL`,
				`ALTER TABLE whatsapp_broadcasts DROP CONSTRAINT IF EXISTS chk_whatsapp_broadcasts_progress`,
				`ALTER TABLE whatsapp_broadcasts ADD CONSTRAINT chk_whatsapp_broadcasts_progress CHECK (sent_count >= 0 AND failed_count >= 0 AND sent_count + failed_count <= total_recipients)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BroadcastModel{})
		},
	}
}
