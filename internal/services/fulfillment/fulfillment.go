// Package fulfillment applies the side effects of a successful payment:
// membership activation, course and group access, affiliate conversion and
// wallet credit. Each transaction is fulfilled in one database transaction
// and every write is keyed by the payment's id, so repeated delivery of the
// same payment changes nothing after the first run.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/services/commission"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionNotSuccessful = errors.New("transaction is not SUCCESS")
	ErrAffiliateProfileNotFound = errors.New("affiliate user has no affiliate profile")
	ErrMembershipNotFound       = errors.New("membership for transaction not found")
	ErrCommissionConfigNotFound = errors.New("no commission configuration for attributed transaction")
)

// Outcome reports what one Fulfill call did
type Outcome struct {
	TransactionID             uuid.UUID                  `json:"transaction_id"`
	Type                      models.TransactionType     `json:"type"`
	AlreadyFulfilled          bool                       `json:"already_fulfilled"`
	UserMembershipID          *uuid.UUID                 `json:"user_membership_id,omitempty"`
	MembershipCreated         bool                       `json:"membership_created"`
	PreviousMembershipExpired int                        `json:"previous_memberships_expired"`
	RoleUpgraded              bool                       `json:"role_upgraded"`
	EnrollmentsCreated        int                        `json:"enrollments_created"`
	GroupMembershipsCreated   int                        `json:"group_memberships_created"`
	AffiliateProfileID        *models.AffiliateProfileID `json:"affiliate_profile_id,omitempty"`
	Commission                decimal.Decimal            `json:"commission"`
	ConversionCreated         bool                       `json:"conversion_created"`
	WalletCredited            bool                       `json:"wallet_credited"`
	CommissionWarnings        []commission.Warning       `json:"commission_warnings,omitempty"`
}

// Changed reports whether the call wrote any side effect
func (o *Outcome) Changed() bool {
	return o.MembershipCreated || o.RoleUpgraded || o.EnrollmentsCreated > 0 ||
		o.GroupMembershipsCreated > 0 || o.ConversionCreated || o.WalletCredited
}

// Service fulfills successful transactions
type Service struct {
	db            *gorm.DB
	wallets       *wallet.WalletService
	entitlements  *entitlement.Service
	commissionOpt commission.Options
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewService creates a new fulfillment service
func NewService(db *gorm.DB, wallets *wallet.WalletService, entitlements *entitlement.Service, commissionOpt commission.Options, log logrus.FieldLogger) *Service {
	return &Service{
		db:            db,
		wallets:       wallets,
		entitlements:  entitlements,
		commissionOpt: commissionOpt,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Fulfill applies every side effect of a SUCCESS transaction that has not
// been applied yet. Any failure rolls the whole unit back.
func (s *Service) Fulfill(ctx context.Context, transactionID uuid.UUID) (*Outcome, error) {
	var outcome *Outcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.Transaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&txn, "id = ?", transactionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
		}
		if err != nil {
			return fmt.Errorf("error loading transaction: %w", err)
		}
		if txn.Status != models.TransactionSuccess {
			return fmt.Errorf("%w: %s is %s", ErrTransactionNotSuccessful, transactionID, txn.Status)
		}

		outcome = &Outcome{
			TransactionID:    txn.ID,
			Type:             txn.Type,
			AlreadyFulfilled: txn.FulfilledAt != nil,
			Commission:       decimal.Zero,
		}

		var cfg *commission.Config
		switch txn.Type {
		case models.TransactionMembership:
			membership, err := s.membershipFor(tx, &txn)
			if err != nil {
				return err
			}
			if err := s.activateMembership(tx, &txn, membership, outcome); err != nil {
				return err
			}
			c := commission.ConfigFromMembership(membership)
			cfg = &c
		case models.TransactionProduct, models.TransactionEvent:
			// Product and event sales never grant membership access.
			if txn.ProductID != nil {
				var product models.Product
				err := tx.First(&product, "id = ?", *txn.ProductID).Error
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("error loading product: %w", err)
				}
				if err == nil {
					c := commission.ConfigFromProduct(&product)
					cfg = &c
				}
			}
		}

		if txn.AffiliateID != nil && txn.Type != models.TransactionCommission {
			if err := s.recordCommission(tx, &txn, cfg, outcome); err != nil {
				return err
			}
		}

		if txn.FulfilledAt == nil {
			if err := tx.Model(&txn).Update("fulfilled_at", s.now()).Error; err != nil {
				return fmt.Errorf("error stamping fulfillment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id":     transactionID.String(),
		"type":               outcome.Type,
		"membership_created": outcome.MembershipCreated,
		"conversion_created": outcome.ConversionCreated,
		"enrollments":        outcome.EnrollmentsCreated,
		"groups":             outcome.GroupMembershipsCreated,
	}).Info("transaction fulfilled")
	return outcome, nil
}

func (s *Service) membershipFor(tx *gorm.DB, txn *models.Transaction) (*models.Membership, error) {
	membershipID := txn.EffectiveMembershipID()
	if membershipID == nil {
		return nil, fmt.Errorf("%w: transaction %s carries no membership id", ErrMembershipNotFound, txn.ID)
	}

	var membership models.Membership
	err := tx.First(&membership, "id = ?", *membershipID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMembershipNotFound, *membershipID)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading membership: %w", err)
	}
	return &membership, nil
}

// activateMembership creates the UserMembership owned by this transaction.
// A renewal expires the user's earlier ACTIVE row for the same plan and
// carries its remaining time over.
func (s *Service) activateMembership(tx *gorm.DB, txn *models.Transaction, membership *models.Membership, outcome *Outcome) error {
	var existing models.UserMembership
	err := tx.Where("transaction_id = ?", txn.ID).First(&existing).Error
	switch {
	case err == nil:
		outcome.UserMembershipID = &existing.ID
		if !existing.IsCurrent(s.now()) {
			return nil
		}
		return s.grant(tx, txn.UserID, membership.ID, outcome)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("error loading user membership: %w", err)
	}

	now := s.now()
	start := now
	if txn.PaidAt != nil {
		start = txn.PaidAt.UTC()
	}

	// Purchases by the same buyer are applied one at a time.
	var buyer models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").Where("id = ?", txn.UserID).Limit(1).Find(&buyer).Error; err != nil {
		return fmt.Errorf("error locking user: %w", err)
	}

	var previous []models.UserMembership
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND membership_id = ? AND status = ?", txn.UserID, membership.ID, models.UserMembershipActive).
		Find(&previous).Error; err != nil {
		return fmt.Errorf("error loading previous memberships: %w", err)
	}

	anchor := start
	lifetime := membership.Duration == models.DurationLifetime
	var expireIDs []uuid.UUID
	for _, prev := range previous {
		// Lapsed rows not yet expired by the nightly job are closed as well.
		expireIDs = append(expireIDs, prev.ID)
		if !prev.IsCurrent(now) {
			continue
		}
		if prev.EndDate == nil {
			lifetime = true
		} else if prev.EndDate.After(anchor) {
			anchor = prev.EndDate.UTC()
		}
	}

	var endDate *time.Time
	if !lifetime {
		endDate = membership.Duration.EndDate(anchor)
		if endDate == nil {
			return fmt.Errorf("membership %s has unknown duration %q", membership.ID, membership.Duration)
		}
	}

	status := models.UserMembershipActive
	if endDate != nil && !endDate.After(now) {
		// A late backfill of a purchase whose period already ran out.
		status = models.UserMembershipExpired
		expireIDs = nil
	}

	if len(expireIDs) > 0 {
		if err := tx.Model(&models.UserMembership{}).
			Where("id IN ?", expireIDs).
			Update("status", models.UserMembershipExpired).Error; err != nil {
			return fmt.Errorf("error expiring previous memberships: %w", err)
		}
		outcome.PreviousMembershipExpired = len(expireIDs)
	}

	txID := txn.ID
	um := models.UserMembership{
		UserID:        txn.UserID,
		MembershipID:  membership.ID,
		TransactionID: &txID,
		Status:        status,
		StartDate:     start,
		EndDate:       endDate,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(&um)
	if res.Error != nil {
		return fmt.Errorf("error creating user membership: %w", res.Error)
	}
	outcome.MembershipCreated = res.RowsAffected == 1
	outcome.UserMembershipID = &um.ID

	if status != models.UserMembershipActive {
		return nil
	}
	return s.grant(tx, txn.UserID, membership.ID, outcome)
}

func (s *Service) grant(tx *gorm.DB, userID models.UserID, membershipID uuid.UUID, outcome *Outcome) error {
	upgraded, err := s.entitlements.UpgradeRoleWithTx(tx, userID)
	if err != nil {
		return err
	}
	outcome.RoleUpgraded = upgraded

	courses, groups, err := s.entitlements.GrantWithTx(tx, userID, membershipID)
	if err != nil {
		return err
	}
	outcome.EnrollmentsCreated = courses
	outcome.GroupMembershipsCreated = groups
	return nil
}

// recordCommission resolves the affiliate's profile from the user id on the
// transaction, inserts the conversion keyed by transaction id and credits
// the wallet only when the conversion is new.
func (s *Service) recordCommission(tx *gorm.DB, txn *models.Transaction, cfg *commission.Config, outcome *Outcome) error {
	affiliateUserID := *txn.AffiliateID

	var profile models.AffiliateProfile
	err := tx.Where("user_id = ?", affiliateUserID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: user %s", ErrAffiliateProfileNotFound, affiliateUserID)
	}
	if err != nil {
		return fmt.Errorf("error loading affiliate profile: %w", err)
	}
	outcome.AffiliateProfileID = &profile.ID

	if affiliateUserID == txn.UserID {
		s.log.WithField("transaction_id", txn.ID.String()).Warn("self-referral ignored")
		return nil
	}

	if cfg == nil {
		return fmt.Errorf("%w: %s", ErrCommissionConfigNotFound, txn.ID)
	}

	amount, err := commission.Compute(txn.Amount, *cfg)
	if err != nil {
		return err
	}
	outcome.Commission = amount
	outcome.CommissionWarnings = commission.Validate(*cfg, s.commissionOpt)
	if len(outcome.CommissionWarnings) > 0 {
		s.log.WithFields(logrus.Fields{
			"transaction_id": txn.ID.String(),
			"warnings":       outcome.CommissionWarnings,
		}).Warn("commission configuration looks suspicious")
	}
	if !amount.IsPositive() {
		return nil
	}

	txID := txn.ID
	conversion := models.AffiliateConversion{
		AffiliateID:      profile.ID,
		TransactionID:    &txID,
		CommissionAmount: amount,
		CommissionType:   cfg.Type,
		CommissionRate:   cfg.Rate,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(&conversion)
	if res.Error != nil {
		return fmt.Errorf("error creating affiliate conversion: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	outcome.ConversionCreated = true

	if err := tx.Model(&profile).Updates(map[string]interface{}{
		"total_earnings":    gorm.Expr("total_earnings + ?", amount),
		"total_conversions": gorm.Expr("total_conversions + 1"),
	}).Error; err != nil {
		return fmt.Errorf("error updating affiliate totals: %w", err)
	}

	_, err = s.wallets.CreditCommissionWithTx(tx, affiliateUserID, txn.ID, amount)
	switch {
	case err == nil:
		outcome.WalletCredited = true
	case errors.Is(err, wallet.ErrDuplicateReference):
		// Paid before the conversion row existed; leave the wallet alone.
		s.log.WithField("transaction_id", txn.ID.String()).Warn("commission already credited without a conversion")
	default:
		return err
	}
	return nil
}

// MarkStatus moves a transaction to status following the gateway. It
// returns whether the stored status changed.
func (s *Service) MarkStatus(ctx context.Context, externalID string, status models.TransactionStatus, paidAt *time.Time) (*models.Transaction, bool, error) {
	var txn models.Transaction
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&txn, "external_id = ?", externalID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: external id %s", ErrTransactionNotFound, externalID)
		}
		if err != nil {
			return fmt.Errorf("error loading transaction: %w", err)
		}

		if !txn.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, txn.Status, status)
		}
		if txn.Status == status {
			return nil
		}

		updates := map[string]interface{}{"status": status}
		if status == models.TransactionSuccess {
			paid := s.now()
			if paidAt != nil {
				paid = paidAt.UTC()
			}
			updates["paid_at"] = paid
			txn.PaidAt = &paid
		}
		if err := tx.Model(&txn).Updates(updates).Error; err != nil {
			return fmt.Errorf("error updating transaction status: %w", err)
		}
		txn.Status = status
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.log.WithFields(logrus.Fields{
			"transaction_id": txn.ID.String(),
			"status":         status,
		}).Info("transaction status updated")
	}
	return &txn, changed, nil
}
