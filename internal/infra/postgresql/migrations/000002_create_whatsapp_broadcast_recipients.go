package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecipientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_whatsapp_broadcast_recipients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE whatsapp_broadcast_recipients DROP CONSTRAINT IF EXISTS fk_whatsapp_broadcast_recipients_broadcast`,
				`ALTER TABLE whatsapp_broadcast_recipients ADD CONSTRAINT fk_whatsapp_broadcast_recipients_broadcast FOREIGN KEY (broadcast_id) REFERENCES whatsapp_broadcasts (id) ON DELETE CASCADE`,
				`CREATE INDEX IF NOT EXISTS idx_whatsapp_broadcast_recipients_pending ON whatsapp_broadcast_recipients (broadcast_id, created_at, id) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_whatsapp_broadcast_recipients_status ON whatsapp_broadcast_recipients (broadcast_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecipientModel{})
		},
	}
}
