package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func walletLedgerIndexesMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_wallet_ledger_indexes",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet_type
				ON wallet_transactions (wallet_id, type, created_at)
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_wallet_transactions_wallet_type").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, walletLedgerIndexesMigration())
}
