package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Orphan is a conversion whose affiliate id matches no affiliate profile
type Orphan struct {
	ConversionID     uuid.UUID                 `json:"conversion_id"`
	AffiliateID      models.AffiliateProfileID `json:"affiliate_id"`
	TransactionID    *uuid.UUID                `json:"transaction_id,omitempty"`
	CommissionAmount decimal.Decimal           `json:"commission_amount"`
	// RepairableTo is set when AffiliateID is really the User.id of a user
	// who owns a profile; the conversion belongs to that profile.
	RepairableTo *models.AffiliateProfileID `json:"repairable_to,omitempty"`
	// Credited is set when a wallet ledger entry already references the
	// conversion's transaction, so deleting it would hide paid money.
	Credited bool `json:"credited"`
}

// Prunable reports whether the orphan can be deleted without losing
// anything: it is not repairable, not credited, and tied to a transaction
// that proves it is the only record of that commission.
func (o *Orphan) Prunable() bool {
	return o.RepairableTo == nil && !o.Credited && o.TransactionID != nil
}

// ReviewReason explains why an orphan was not pruned
func (o *Orphan) ReviewReason() string {
	switch {
	case o.RepairableTo != nil:
		return "affiliate id is a user id; repair instead of pruning"
	case o.Credited:
		return "commission already credited to a wallet"
	case o.TransactionID == nil:
		return "legacy conversion without a transaction reference"
	}
	return ""
}

// OrphanOptions controls RepairOrphans and PruneOrphans
type OrphanOptions struct {
	DryRun  bool
	ActorID *models.UserID
}

// ReviewItem is an orphan left for a human with the reason it was skipped
type ReviewItem struct {
	Orphan Orphan `json:"orphan"`
	Reason string `json:"reason"`
}

// OrphanReport summarises an orphan repair or prune pass
type OrphanReport struct {
	DryRun      bool            `json:"dry_run"`
	Found       int             `json:"found"`
	Repaired    int             `json:"repaired"`
	Pruned      int             `json:"pruned"`
	Amount      decimal.Decimal `json:"amount"`
	Orphans     []Orphan        `json:"orphans"`
	NeedsReview []ReviewItem    `json:"needs_review"`
}

const orphanQuery = `
	SELECT c.id AS conversion_id,
		c.affiliate_id AS affiliate_id,
		c.transaction_id AS transaction_id,
		c.commission_amount AS commission_amount,
		rp.id AS repairable_to,
		EXISTS (
			SELECT 1 FROM wallet_transactions wt
			WHERE wt.reference = 'commission:' || c.transaction_id
		) AS credited
	FROM affiliate_conversions c
	LEFT JOIN affiliate_profiles p ON p.id = c.affiliate_id
	LEFT JOIN affiliate_profiles rp ON rp.user_id = c.affiliate_id
	WHERE p.id IS NULL`

func findOrphans(tx *gorm.DB, conversionID *uuid.UUID) ([]Orphan, error) {
	sql := orphanQuery
	var args []interface{}
	if conversionID != nil {
		sql += " AND c.id = ?"
		args = append(args, *conversionID)
	}
	sql += " ORDER BY c.id"

	var orphans []Orphan
	if err := tx.Raw(sql, args...).Scan(&orphans).Error; err != nil {
		return nil, fmt.Errorf("error finding orphaned conversions: %w", err)
	}
	return orphans, nil
}

// FindOrphans lists every orphaned conversion with its repair and credit status
func (s *Service) FindOrphans(ctx context.Context) ([]Orphan, error) {
	orphans, err := findOrphans(s.db.WithContext(ctx), nil)
	if err != nil {
		return nil, err
	}
	if orphans == nil {
		orphans = []Orphan{}
	}
	return orphans, nil
}

func newOrphanReport(orphans []Orphan, dryRun bool) *OrphanReport {
	report := &OrphanReport{
		DryRun:      dryRun,
		Found:       len(orphans),
		Amount:      decimal.Zero,
		Orphans:     orphans,
		NeedsReview: []ReviewItem{},
	}
	for _, o := range orphans {
		report.Amount = report.Amount.Add(o.CommissionAmount)
	}
	return report
}

// RepairOrphans points every repairable orphan at the profile of the user
// whose id it carries. Each repair re-checks the row inside its own
// transaction and is audited.
func (s *Service) RepairOrphans(ctx context.Context, opts OrphanOptions) (*OrphanReport, error) {
	orphans, err := s.FindOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report := newOrphanReport(orphans, opts.DryRun)

	for i := range orphans {
		o := orphans[i]
		if o.RepairableTo == nil {
			report.NeedsReview = append(report.NeedsReview, ReviewItem{Orphan: o, Reason: "no user owns a profile for this affiliate id"})
			continue
		}
		if opts.DryRun {
			report.Repaired++
			continue
		}

		repaired, err := s.repairOne(ctx, o, opts.ActorID)
		if err != nil {
			return report, err
		}
		if repaired {
			report.Repaired++
		}
	}

	s.log.WithFields(logrus.Fields{
		"found":    report.Found,
		"repaired": report.Repaired,
		"dry_run":  opts.DryRun,
	}).Info("orphan repair finished")
	return report, nil
}

func (s *Service) repairOne(ctx context.Context, o Orphan, actorID *models.UserID) (bool, error) {
	repaired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findOrphans(tx, &o.ConversionID)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			return nil
		}

		// The orphan's affiliate id is being read as a user id here on purpose.
		ownerID := models.UserID(current[0].AffiliateID)
		var profile models.AffiliateProfile
		err = tx.Where("user_id = ?", ownerID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error resolving affiliate profile: %w", err)
		}

		res := tx.Model(&models.AffiliateConversion{}).
			Where("id = ? AND affiliate_id = ?", o.ConversionID, o.AffiliateID).
			Update("affiliate_id", profile.ID)
		if res.Error != nil {
			return fmt.Errorf("error repairing conversion: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		repaired = true

		return s.audit.WithTx(tx).LogEvent(ctx, utils.AuditEntry{
			EventType:    utils.AuditEventOrphanRepaired,
			Severity:     utils.AuditSeverityWarning,
			ActorID:      actorID,
			TargetUserID: &ownerID,
			Description:  "Orphaned conversion re-pointed from user id to affiliate profile id",
			Details: map[string]interface{}{
				"conversion_id":     o.ConversionID.String(),
				"old_affiliate_id":  o.AffiliateID.String(),
				"new_affiliate_id":  profile.ID.String(),
				"commission_amount": o.CommissionAmount.String(),
			},
		})
	})
	return repaired, err
}

// PruneOrphans deletes orphans that are neither repairable nor credited.
// Every other orphan is returned in NeedsReview.
func (s *Service) PruneOrphans(ctx context.Context, opts OrphanOptions) (*OrphanReport, error) {
	orphans, err := s.FindOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report := newOrphanReport(orphans, opts.DryRun)

	for i := range orphans {
		o := orphans[i]
		if !o.Prunable() {
			report.NeedsReview = append(report.NeedsReview, ReviewItem{Orphan: o, Reason: o.ReviewReason()})
			continue
		}
		if opts.DryRun {
			report.Pruned++
			continue
		}

		pruned, err := s.pruneOne(ctx, o, opts.ActorID)
		if err != nil {
			return report, err
		}
		if pruned {
			report.Pruned++
		}
	}

	s.log.WithFields(logrus.Fields{
		"found":        report.Found,
		"pruned":       report.Pruned,
		"needs_review": len(report.NeedsReview),
		"dry_run":      opts.DryRun,
	}).Info("orphan prune finished")
	return report, nil
}

func (s *Service) pruneOne(ctx context.Context, o Orphan, actorID *models.UserID) (bool, error) {
	pruned := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findOrphans(tx, &o.ConversionID)
		if err != nil {
			return err
		}
		if len(current) == 0 || !current[0].Prunable() {
			return nil
		}

		res := tx.Where("id = ?", o.ConversionID).Delete(&models.AffiliateConversion{})
		if res.Error != nil {
			return fmt.Errorf("error deleting conversion: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		pruned = true

		details := map[string]interface{}{
			"conversion_id":     o.ConversionID.String(),
			"affiliate_id":      o.AffiliateID.String(),
			"commission_amount": o.CommissionAmount.String(),
		}
		if o.TransactionID != nil {
			details["transaction_id"] = o.TransactionID.String()
		}
		return s.audit.WithTx(tx).LogEvent(ctx, utils.AuditEntry{
			EventType:   utils.AuditEventOrphanPruned,
			Severity:    utils.AuditSeverityWarning,
			ActorID:     actorID,
			Description: "Orphaned conversion deleted after double-count check",
			Details:     details,
		})
	})
	return pruned, err
}
