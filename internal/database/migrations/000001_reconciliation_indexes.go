package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func reconciliationIndexesMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_reconciliation_indexes",
		Migrate: func(tx *gorm.DB) error {
			// Partial index: the duplicate-active scan and entitlement lookups
			// only ever read ACTIVE rows.
			if err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_user_memberships_active
				ON user_memberships (user_id, membership_id)
				WHERE status = 'ACTIVE'
			`).Error; err != nil {
				return err
			}

			if err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_transactions_success_type
				ON transactions (type, created_at)
				WHERE status = 'SUCCESS'
			`).Error; err != nil {
				return err
			}

			return tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_affiliate_conversions_affiliate_amount
				ON affiliate_conversions (affiliate_id, commission_amount)
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			for _, idx := range []string{
				"idx_user_memberships_active",
				"idx_transactions_success_type",
				"idx_affiliate_conversions_affiliate_amount",
			} {
				if err := tx.Exec("DROP INDEX IF EXISTS " + idx).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func init() {
	migrationsList = append(migrationsList, reconciliationIndexesMigration())
}
