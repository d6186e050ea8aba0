package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrWalletNotFound is returned when a user has no wallet
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrDuplicateReference is returned when a ledger entry with the same reference exists
	ErrDuplicateReference = errors.New("wallet ledger reference already recorded")
	// ErrInsufficientBalance is returned when a debit would take the balance below zero
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Entry describes one movement to post to a wallet
type Entry struct {
	Type          models.WalletTransactionType
	BalanceDelta  decimal.Decimal
	EarningsDelta decimal.Decimal
	Reference     string
	Description   string
	Metadata      map[string]interface{}
}

// WalletService handles wallet operations
type WalletService struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewWalletService creates a new wallet service
func NewWalletService(db *gorm.DB, log logrus.FieldLogger) *WalletService {
	return &WalletService{db: db, log: log}
}

// GetWallet returns the wallet of a user
func (s *WalletService) GetWallet(ctx context.Context, userID models.UserID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding wallet: %w", err)
	}
	return &wallet, nil
}

// GetOrCreateWalletWithTx returns the user's wallet row locked for update,
// creating it first when it does not exist.
func (s *WalletService) GetOrCreateWalletWithTx(tx *gorm.DB, userID models.UserID) (*models.Wallet, error) {
	wallet := models.Wallet{
		UserID:        userID,
		Balance:       decimal.Zero,
		TotalEarnings: decimal.Zero,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&wallet).Error; err != nil {
		return nil, fmt.Errorf("error creating wallet: %w", err)
	}

	var locked models.Wallet
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&locked).Error; err != nil {
		return nil, fmt.Errorf("error locking wallet: %w", err)
	}
	return &locked, nil
}

// LockWalletWithTx returns the user's existing wallet row locked for update
func (s *WalletService) LockWalletWithTx(tx *gorm.DB, userID models.UserID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error locking wallet: %w", err)
	}
	return &wallet, nil
}

// PostWithTx applies entry to a wallet already locked by the caller and
// records it in the wallet ledger. A reference seen before leaves the wallet
// untouched and returns ErrDuplicateReference.
func (s *WalletService) PostWithTx(tx *gorm.DB, wallet *models.Wallet, entry Entry) (*models.WalletTransaction, error) {
	var existing int64
	if err := tx.Model(&models.WalletTransaction{}).
		Where("reference = ?", entry.Reference).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("error checking ledger reference: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateReference
	}

	var metadata []byte
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("error encoding ledger metadata: %w", err)
		}
		metadata = raw
	}

	record := models.WalletTransaction{
		WalletID:       wallet.ID,
		Type:           entry.Type,
		Amount:         entry.EarningsDelta,
		Reference:      entry.Reference,
		Description:    entry.Description,
		Metadata:       metadata,
		BalanceBefore:  wallet.Balance,
		BalanceAfter:   wallet.Balance.Add(entry.BalanceDelta),
		EarningsBefore: wallet.TotalEarnings,
		EarningsAfter:  wallet.TotalEarnings.Add(entry.EarningsDelta),
	}
	if entry.EarningsDelta.IsZero() {
		record.Amount = entry.BalanceDelta
	}

	if err := tx.Model(wallet).Updates(map[string]interface{}{
		"balance":        record.BalanceAfter,
		"total_earnings": record.EarningsAfter,
	}).Error; err != nil {
		return nil, fmt.Errorf("error updating wallet balance: %w", err)
	}
	wallet.Balance = record.BalanceAfter
	wallet.TotalEarnings = record.EarningsAfter

	if err := tx.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("error creating ledger entry: %w", err)
	}

	return &record, nil
}

// CreditCommissionWithTx credits a commission earned on a transaction to the
// affiliate user's wallet, creating the wallet when needed.
func (s *WalletService) CreditCommissionWithTx(tx *gorm.DB, userID models.UserID, transactionID uuid.UUID, amount decimal.Decimal) (*models.WalletTransaction, error) {
	wallet, err := s.GetOrCreateWalletWithTx(tx, userID)
	if err != nil {
		return nil, err
	}

	record, err := s.PostWithTx(tx, wallet, Entry{
		Type:          models.WalletTxCommission,
		BalanceDelta:  amount,
		EarningsDelta: amount,
		Reference:     models.CommissionReference(transactionID),
		Description:   "Affiliate commission",
		Metadata:      map[string]interface{}{"transaction_id": transactionID.String()},
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":        userID.String(),
		"transaction_id": transactionID.String(),
		"amount":         amount.String(),
	}).Info("commission credited")
	return record, nil
}

// GetWalletByID returns a wallet by its own id
func (s *WalletService) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).First(&wallet, "id = ?", walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding wallet: %w", err)
	}
	return &wallet, nil
}

// AdjustBalance moves a wallet's spendable balance by delta on an admin's
// instruction. Earnings are left alone; they only follow conversions.
func (s *WalletService) AdjustBalance(ctx context.Context, walletID uuid.UUID, delta decimal.Decimal, reference, description string, actorID *models.UserID) (*models.Wallet, *models.WalletTransaction, error) {
	var wallet models.Wallet
	var record *models.WalletTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&wallet, "id = ?", walletID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("error locking wallet: %w", err)
		}
		if wallet.Balance.Add(delta).IsNegative() {
			return ErrInsufficientBalance
		}

		record, err = s.PostWithTx(tx, &wallet, Entry{
			Type:         models.WalletTxAdminAdjustment,
			BalanceDelta: delta,
			Reference:    reference,
			Description:  description,
			Metadata:     map[string]interface{}{"actor_id": actorIDString(actorID)},
		})
		if err != nil {
			return err
		}

		userID := wallet.UserID
		return utils.NewAuditLogger(tx).LogEvent(ctx, utils.AuditEntry{
			EventType:    utils.AuditEventAdminAction,
			Severity:     utils.AuditSeverityWarning,
			ActorID:      actorID,
			TargetUserID: &userID,
			Description:  "manual wallet balance adjustment",
			Details: map[string]interface{}{
				"wallet_id": walletID.String(),
				"delta":     delta.String(),
				"reference": reference,
				"reason":    description,
			},
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"wallet_id": walletID.String(),
		"delta":     delta.String(),
		"reference": reference,
	}).Warn("wallet balance adjusted by admin")
	return &wallet, record, nil
}

func actorIDString(id *models.UserID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// ListWallets returns a page of wallets, newest first
func (s *WalletService) ListWallets(ctx context.Context, page, pageSize int) ([]models.Wallet, int64, error) {
	var wallets []models.Wallet
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Wallet{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting wallets: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&wallets).Error; err != nil {
		return nil, 0, fmt.Errorf("error finding wallets: %w", err)
	}
	return wallets, total, nil
}

// ListTransactions returns a page of a wallet's ledger entries, newest first
func (s *WalletService) ListTransactions(ctx context.Context, walletID uuid.UUID, txType string, page, pageSize int) ([]models.WalletTransaction, int64, error) {
	var entries []models.WalletTransaction
	var total int64

	query := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("wallet_id = ?", walletID)
	if txType != "" {
		query = query.Where("type = ?", txType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting ledger entries: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("error finding ledger entries: %w", err)
	}
	return entries, total, nil
}
