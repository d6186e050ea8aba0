package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet represents a user's earnings wallet
type Wallet struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	UserID        UserID          `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	TotalEarnings decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// WalletTransactionType classifies a wallet ledger entry
type WalletTransactionType string

const (
	WalletTxCommission               WalletTransactionType = "commission"
	WalletTxReconciliationAdjustment WalletTransactionType = "reconciliation_adjustment"
	WalletTxAdminAdjustment          WalletTransactionType = "admin_adjustment"
)

// WalletTransaction is one audited movement of a wallet's balance or
// earnings. Reference is unique so a movement is never recorded twice.
type WalletTransaction struct {
	ID             uuid.UUID             `gorm:"type:uuid;primary_key" json:"id"`
	WalletID       uuid.UUID             `gorm:"type:uuid;index;not null" json:"wallet_id"`
	Type           WalletTransactionType `gorm:"type:varchar(50);not null" json:"type"`
	Amount         decimal.Decimal       `gorm:"type:decimal(20,2);not null" json:"amount"`
	Reference      string                `gorm:"type:varchar(255);uniqueIndex;not null" json:"reference"`
	Description    string                `gorm:"type:text" json:"description"`
	Metadata       datatypes.JSON        `json:"metadata,omitempty"`
	BalanceBefore  decimal.Decimal       `gorm:"type:decimal(20,2)" json:"balance_before"`
	BalanceAfter   decimal.Decimal       `gorm:"type:decimal(20,2)" json:"balance_after"`
	EarningsBefore decimal.Decimal       `gorm:"type:decimal(20,2)" json:"earnings_before"`
	EarningsAfter  decimal.Decimal       `gorm:"type:decimal(20,2)" json:"earnings_after"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (w *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// CommissionReference is the ledger reference of the commission credited
// for a transaction.
func CommissionReference(transactionID uuid.UUID) string {
	return fmt.Sprintf("commission:%s", transactionID)
}
