package ledger

import (
	"context"
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// InvariantReport checks that wallets hold at least what valid conversions earned
type InvariantReport struct {
	TotalWalletEarnings    decimal.Decimal `json:"total_wallet_earnings"`
	TotalValidConversions  decimal.Decimal `json:"total_valid_conversions"`
	TotalOrphanConversions decimal.Decimal `json:"total_orphan_conversions"`
	OrphanCount            int64           `json:"orphan_count"`
	// UnderpaidUsers counts wallets short of their own conversions by more
	// than the tolerance, which the global totals can hide.
	UnderpaidUsers int64           `json:"underpaid_users"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	Holds          bool            `json:"holds"`
}

// CheckInvariant compares the sum of all wallet earnings with the sum of
// conversions that resolve to an affiliate profile. Wallets may exceed
// conversions when other earning sources exist; they must never fall short.
func (s *Service) CheckInvariant(ctx context.Context) (*InvariantReport, error) {
	db := s.db.WithContext(ctx)
	report := &InvariantReport{}

	if err := db.Model(&models.Wallet{}).
		Select("COALESCE(SUM(total_earnings), 0)").
		Row().Scan(&report.TotalWalletEarnings); err != nil {
		return nil, fmt.Errorf("error summing wallet earnings: %w", err)
	}

	if err := db.Table("affiliate_conversions").
		Select("COALESCE(SUM(affiliate_conversions.commission_amount), 0)").
		Joins("JOIN affiliate_profiles ON affiliate_profiles.id = affiliate_conversions.affiliate_id").
		Row().Scan(&report.TotalValidConversions); err != nil {
		return nil, fmt.Errorf("error summing conversions: %w", err)
	}

	if err := db.Table("affiliate_conversions").
		Select("COALESCE(SUM(affiliate_conversions.commission_amount), 0), COUNT(*)").
		Joins("LEFT JOIN affiliate_profiles ON affiliate_profiles.id = affiliate_conversions.affiliate_id").
		Where("affiliate_profiles.id IS NULL").
		Row().Scan(&report.TotalOrphanConversions, &report.OrphanCount); err != nil {
		return nil, fmt.Errorf("error summing orphaned conversions: %w", err)
	}

	reports, err := s.WalletReports(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		if r.Drift && r.Delta.IsPositive() {
			report.UnderpaidUsers++
		}
	}

	report.Shortfall = decimal.Zero
	if report.TotalWalletEarnings.LessThan(report.TotalValidConversions) {
		report.Shortfall = report.TotalValidConversions.Sub(report.TotalWalletEarnings)
	}
	report.Holds = report.Shortfall.IsZero()

	if !report.Holds {
		s.log.WithField("shortfall", report.Shortfall.String()).Error("wallet earnings below valid conversions")
	}
	return report, nil
}
