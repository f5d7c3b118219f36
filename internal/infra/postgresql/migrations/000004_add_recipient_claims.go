package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addRecipientClaims() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_recipient_claims",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE whatsapp_broadcast_recipients ADD COLUMN IF NOT EXISTS claimed_at timestamptz`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE whatsapp_broadcast_recipients DROP COLUMN IF EXISTS claimed_at`).Error
		},
	}
}
