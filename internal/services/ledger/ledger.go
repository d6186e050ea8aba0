// Package ledger checks affiliate wallets against the commission
// conversions that back them and applies audited corrections.
//
// Conversions reference AffiliateProfile.id while wallets and transactions
// reference User.id. Every query here resolves the user to their profile
// before summing; a conversion whose affiliate id matches no profile is an
// orphan and is left out of every total.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrNoDrift is returned by ApplyCorrection when the wallet already
	// matches its conversions within tolerance.
	ErrNoDrift = errors.New("wallet earnings match conversions within tolerance")
)

// DefaultTolerance is the drift, in rupiah, treated as rounding noise
var DefaultTolerance = decimal.NewFromInt(1)

// WalletReport compares a user's wallet with the conversions credited to
// their affiliate profile.
type WalletReport struct {
	UserID               models.UserID              `json:"user_id"`
	AffiliateProfileID   *models.AffiliateProfileID `json:"affiliate_profile_id,omitempty"`
	HasAffiliateProfile  bool                       `json:"has_affiliate_profile"`
	HasWallet            bool                       `json:"has_wallet"`
	ConversionCount      int64                      `json:"conversion_count"`
	ExpectedEarnings     decimal.Decimal            `json:"expected_earnings"`
	ActualWalletEarnings decimal.Decimal            `json:"actual_wallet_earnings"`
	Balance              decimal.Decimal            `json:"balance"`
	ProfileTotalEarnings decimal.Decimal            `json:"profile_total_earnings"`
	// Delta is expected minus actual; positive means the wallet is short.
	Delta     decimal.Decimal `json:"delta"`
	Tolerance decimal.Decimal `json:"tolerance"`
	Drift     bool            `json:"drift"`
}

func (r *WalletReport) finish(tolerance decimal.Decimal) {
	r.Delta = r.ExpectedEarnings.Sub(r.ActualWalletEarnings)
	r.Tolerance = tolerance
	r.Drift = r.Delta.Abs().GreaterThan(tolerance)
}

// Correction describes who asked for a correction and why
type Correction struct {
	ActorID *models.UserID
	Reason  string
}

// CorrectionResult is the outcome of ApplyCorrection
type CorrectionResult struct {
	Before     WalletReport              `json:"before"`
	After      WalletReport              `json:"after"`
	Adjustment *models.WalletTransaction `json:"adjustment"`
}

// Service reconciles wallets against conversions
type Service struct {
	db        *gorm.DB
	wallets   *wallet.WalletService
	audit     *utils.AuditLogger
	log       logrus.FieldLogger
	tolerance decimal.Decimal
}

// NewService creates a new ledger service. A zero tolerance flags any
// difference at all; a negative one falls back to DefaultTolerance.
func NewService(db *gorm.DB, wallets *wallet.WalletService, audit *utils.AuditLogger, log logrus.FieldLogger, tolerance decimal.Decimal) *Service {
	if tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	return &Service{
		db:        db,
		wallets:   wallets,
		audit:     audit,
		log:       log,
		tolerance: tolerance,
	}
}

// Tolerance returns the configured drift tolerance
func (s *Service) Tolerance() decimal.Decimal {
	return s.tolerance
}

type conversionTotals struct {
	Total decimal.Decimal
	Count int64
}

// sumConversions totals the conversions credited to one affiliate profile
func sumConversions(tx *gorm.DB, profileID models.AffiliateProfileID) (conversionTotals, error) {
	var totals conversionTotals
	row := tx.Model(&models.AffiliateConversion{}).
		Select("COALESCE(SUM(commission_amount), 0), COUNT(*)").
		Where("affiliate_id = ?", profileID).
		Row()
	if err := row.Scan(&totals.Total, &totals.Count); err != nil {
		return totals, fmt.Errorf("error summing conversions: %w", err)
	}
	return totals, nil
}

// buildReport assembles the wallet report for a user. The user must exist.
func (s *Service) buildReport(tx *gorm.DB, userID models.UserID) (*WalletReport, *models.AffiliateProfile, error) {
	var user models.User
	err := tx.Select("id").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error loading user: %w", err)
	}

	report := &WalletReport{
		UserID:               userID,
		ExpectedEarnings:     decimal.Zero,
		ActualWalletEarnings: decimal.Zero,
		Balance:              decimal.Zero,
		ProfileTotalEarnings: decimal.Zero,
	}

	var profile models.AffiliateProfile
	err = tx.Where("user_id = ?", userID).First(&profile).Error
	switch {
	case err == nil:
		totals, err := sumConversions(tx, profile.ID)
		if err != nil {
			return nil, nil, err
		}
		report.AffiliateProfileID = &profile.ID
		report.HasAffiliateProfile = true
		report.ExpectedEarnings = totals.Total
		report.ConversionCount = totals.Count
		report.ProfileTotalEarnings = profile.TotalEarnings
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, nil, fmt.Errorf("error loading affiliate profile: %w", err)
	}

	var w models.Wallet
	err = tx.Where("user_id = ?", userID).First(&w).Error
	switch {
	case err == nil:
		report.HasWallet = true
		report.ActualWalletEarnings = w.TotalEarnings
		report.Balance = w.Balance
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, nil, fmt.Errorf("error loading wallet: %w", err)
	}

	report.finish(s.tolerance)
	if !report.HasAffiliateProfile {
		return report, nil, nil
	}
	return report, &profile, nil
}

// ReconcileWallet reports expected earnings, actual wallet earnings and the
// delta for a user. A user without an affiliate profile is expected to have
// earned nothing.
func (s *Service) ReconcileWallet(ctx context.Context, userID models.UserID) (*WalletReport, error) {
	report, _, err := s.buildReport(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}

	if report.Drift {
		s.log.WithFields(logrus.Fields{
			"user_id":  userID.String(),
			"expected": report.ExpectedEarnings.String(),
			"actual":   report.ActualWalletEarnings.String(),
			"delta":    report.Delta.String(),
		}).Warn("wallet drift detected")
	}
	return report, nil
}

// ApplyCorrection brings a drifting wallet's total earnings to the sum of
// its conversions. The balance moves by the same delta. The change is
// written as a reconciliation_adjustment ledger entry and an audit log row
// in the same database transaction, with the wallet row locked.
func (s *Service) ApplyCorrection(ctx context.Context, userID models.UserID, c Correction) (*CorrectionResult, error) {
	var result *CorrectionResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, profile, err := s.buildReport(tx, userID)
		if err != nil {
			return err
		}
		if !before.Drift {
			return ErrNoDrift
		}

		w, err := s.wallets.GetOrCreateWalletWithTx(tx, userID)
		if err != nil {
			return err
		}

		// Recompute against the locked row.
		before.ActualWalletEarnings = w.TotalEarnings
		before.Balance = w.Balance
		before.HasWallet = true
		before.finish(s.tolerance)
		if !before.Drift {
			return ErrNoDrift
		}

		reference := fmt.Sprintf("reconcile:%s:%s", w.ID, uuid.New())
		adjustment, err := s.wallets.PostWithTx(tx, w, wallet.Entry{
			Type:          models.WalletTxReconciliationAdjustment,
			BalanceDelta:  before.Delta,
			EarningsDelta: before.Delta,
			Reference:     reference,
			Description:   "Reconciliation adjustment to match affiliate conversions",
			Metadata: map[string]interface{}{
				"expected_earnings": before.ExpectedEarnings.String(),
				"previous_earnings": before.ActualWalletEarnings.String(),
				"reason":            c.Reason,
			},
		})
		if err != nil {
			return err
		}

		if profile != nil {
			if err := tx.Model(profile).Updates(map[string]interface{}{
				"total_earnings":    before.ExpectedEarnings,
				"total_conversions": before.ConversionCount,
			}).Error; err != nil {
				return fmt.Errorf("error syncing affiliate profile totals: %w", err)
			}
		}

		if err := s.audit.WithTx(tx).LogEvent(ctx, utils.AuditEntry{
			EventType:    utils.AuditEventWalletCorrection,
			Severity:     utils.AuditSeverityWarning,
			ActorID:      c.ActorID,
			TargetUserID: &userID,
			Description:  "Wallet earnings corrected to match affiliate conversions",
			Details: map[string]interface{}{
				"wallet_id":         w.ID.String(),
				"reference":         reference,
				"expected_earnings": before.ExpectedEarnings.String(),
				"previous_earnings": before.ActualWalletEarnings.String(),
				"previous_balance":  before.Balance.String(),
				"delta":             before.Delta.String(),
				"reason":            c.Reason,
			},
		}); err != nil {
			return err
		}

		after, _, err := s.buildReport(tx, userID)
		if err != nil {
			return err
		}

		result = &CorrectionResult{Before: *before, After: *after, Adjustment: adjustment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID.String(),
		"delta":   result.Before.Delta.String(),
	}).Info("wallet corrected")
	return result, nil
}

type reportRow struct {
	UserID          models.UserID
	ProfileID       *models.AffiliateProfileID
	WalletID        *uuid.UUID
	ProfileEarnings decimal.Decimal
	Actual          decimal.Decimal
	Balance         decimal.Decimal
	Expected        decimal.Decimal
	Conversions     int64
}

// WalletReports returns a report for every user holding a wallet or an
// affiliate profile, or only for userIDs when given, in one set-based query.
func (s *Service) WalletReports(ctx context.Context, userIDs []models.UserID) ([]WalletReport, error) {
	query := s.db.WithContext(ctx).
		Table("users").
		Select(`users.id AS user_id,
			affiliate_profiles.id AS profile_id,
			wallets.id AS wallet_id,
			COALESCE(affiliate_profiles.total_earnings, 0) AS profile_earnings,
			COALESCE(wallets.total_earnings, 0) AS actual,
			COALESCE(wallets.balance, 0) AS balance,
			COALESCE(conv.expected, 0) AS expected,
			COALESCE(conv.conversions, 0) AS conversions`).
		Joins("LEFT JOIN affiliate_profiles ON affiliate_profiles.user_id = users.id").
		Joins("LEFT JOIN wallets ON wallets.user_id = users.id").
		Joins(`LEFT JOIN (
			SELECT affiliate_id, SUM(commission_amount) AS expected, COUNT(*) AS conversions
			FROM affiliate_conversions GROUP BY affiliate_id
		) conv ON conv.affiliate_id = affiliate_profiles.id`).
		Where("affiliate_profiles.id IS NOT NULL OR wallets.id IS NOT NULL")
	if len(userIDs) > 0 {
		query = query.Where("users.id IN ?", userIDs)
	}

	var rows []reportRow
	if err := query.Order("users.id").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error building wallet reports: %w", err)
	}

	reports := make([]WalletReport, 0, len(rows))
	for _, row := range rows {
		r := WalletReport{
			UserID:               row.UserID,
			AffiliateProfileID:   row.ProfileID,
			HasAffiliateProfile:  row.ProfileID != nil,
			HasWallet:            row.WalletID != nil,
			ConversionCount:      row.Conversions,
			ExpectedEarnings:     row.Expected,
			ActualWalletEarnings: row.Actual,
			Balance:              row.Balance,
			ProfileTotalEarnings: row.ProfileEarnings,
		}
		r.finish(s.tolerance)
		reports = append(reports, r)
	}
	return reports, nil
}
