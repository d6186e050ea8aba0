package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TransactionResult is the per-transaction detail of a backfill
type TransactionResult struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	Outcome       *fulfillment.Outcome `json:"outcome,omitempty"`
	Attempts      int                  `json:"attempts"`
	Error         string               `json:"error,omitempty"`
}

// DuplicateMembership is a (user, membership) pair holding more than one
// ACTIVE row. It is reported and never deleted automatically.
type DuplicateMembership struct {
	UserID       models.UserID `json:"user_id"`
	MembershipID uuid.UUID     `json:"membership_id"`
	Count        int64         `json:"count"`
}

// BackfillReport summarises a transaction backfill
type BackfillReport struct {
	StartedAt            time.Time             `json:"started_at"`
	FinishedAt           time.Time             `json:"finished_at"`
	DryRun               bool                  `json:"dry_run"`
	MissingMembership    []uuid.UUID           `json:"missing_membership"`
	MissingConversion    []uuid.UUID           `json:"missing_conversion"`
	Fulfilled            int                   `json:"fulfilled"`
	Unchanged            int                   `json:"unchanged"`
	Failed               int                   `json:"failed"`
	Transactions         []TransactionResult   `json:"transactions"`
	DuplicateMemberships []DuplicateMembership `json:"duplicate_memberships"`
}

// missingMemberships lists SUCCESS membership purchases that own no UserMembership
func (r *Runner) missingMemberships(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Table("transactions AS t").
		Joins("LEFT JOIN user_memberships um ON um.transaction_id = t.id").
		Where("t.status = ? AND t.type = ? AND um.id IS NULL", models.TransactionSuccess, models.TransactionMembership).
		Order("t.created_at").
		Pluck("t.id", &ids).Error
	return ids, err
}

// missingConversions lists attributed SUCCESS sales without a conversion
func (r *Runner) missingConversions(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Table("transactions AS t").
		Joins("LEFT JOIN affiliate_conversions c ON c.transaction_id = t.id").
		Where("t.status = ? AND t.type <> ? AND t.affiliate_id IS NOT NULL AND t.affiliate_id <> t.user_id AND c.id IS NULL",
			models.TransactionSuccess, models.TransactionCommission).
		Order("t.created_at").
		Pluck("t.id", &ids).Error
	return ids, err
}

type pendingTransaction struct {
	ID     uuid.UUID
	UserID models.UserID
}

// pendingByUser loads the buyer of each transaction, oldest purchase first
func (r *Runner) pendingByUser(ctx context.Context, ids []uuid.UUID) ([]pendingTransaction, error) {
	var rows []pendingTransaction
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("id, user_id").
		Where("id IN ?", ids).
		Order("created_at, id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error loading pending transactions: %w", err)
	}
	return rows, nil
}

// DuplicateActiveMemberships finds users holding the same plan twice
func (r *Runner) DuplicateActiveMemberships(ctx context.Context) ([]DuplicateMembership, error) {
	var dups []DuplicateMembership
	err := r.db.WithContext(ctx).Model(&models.UserMembership{}).
		Select("user_id, membership_id, COUNT(*) AS count").
		Where("status = ?", models.UserMembershipActive).
		Group("user_id, membership_id").
		Having("COUNT(*) > 1").
		Scan(&dups).Error
	return dups, err
}

// BackfillTransactions finds SUCCESS transactions whose side effects are
// missing and fulfills each one. Fulfillment is idempotent, so a
// transaction that is only partly applied gets the rest.
func (r *Runner) BackfillTransactions(ctx context.Context, opts Options) (*BackfillReport, error) {
	report := &BackfillReport{StartedAt: time.Now().UTC(), DryRun: opts.DryRun}

	var err error
	if report.MissingMembership, err = r.missingMemberships(ctx); err != nil {
		return nil, err
	}
	if report.MissingConversion, err = r.missingConversions(ctx); err != nil {
		return nil, err
	}
	if report.DuplicateMemberships, err = r.DuplicateActiveMemberships(ctx); err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{})
	var candidates []uuid.UUID
	for _, ids := range [][]uuid.UUID{report.MissingMembership, report.MissingConversion} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}
	pending, err := r.pendingByUser(ctx, candidates)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		for _, p := range pending {
			report.Transactions = append(report.Transactions, TransactionResult{TransactionID: p.ID})
		}
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	// One unit per buyer: renewals of the same plan must see each other.
	groups := make(map[models.UserID][]int)
	var order []models.UserID
	for i, p := range pending {
		if _, ok := groups[p.UserID]; !ok {
			order = append(order, p.UserID)
		}
		groups[p.UserID] = append(groups[p.UserID], i)
	}

	results := make([]TransactionResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency(opts))

	for _, userID := range order {
		idx := groups[userID]
		g.Go(func() error {
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = r.fulfill(gctx, pending[i].ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		switch {
		case res.Error != "":
			report.Failed++
		case res.Outcome != nil && res.Outcome.Changed():
			report.Fulfilled++
		default:
			report.Unchanged++
		}
	}
	report.Transactions = results
	report.FinishedAt = time.Now().UTC()

	r.log.WithFields(logrus.Fields{
		"fulfilled":  report.Fulfilled,
		"unchanged":  report.Unchanged,
		"failed":     report.Failed,
		"duplicates": len(report.DuplicateMemberships),
	}).Info("transaction backfill finished")
	return report, nil
}

func (r *Runner) fulfill(ctx context.Context, id uuid.UUID) TransactionResult {
	res := TransactionResult{TransactionID: id}

	attempts, err := utils.Retry(ctx, r.cfg.MaxAttempts, r.cfg.Backoff, retryable, func(ctx context.Context) error {
		outcome, err := r.fulfillment.Fulfill(ctx, id)
		if err != nil {
			return err
		}
		res.Outcome = outcome
		return nil
	})
	res.Attempts = attempts

	result := "applied"
	switch {
	case err != nil:
		res.Error = err.Error()
		result = "failed"
		r.log.WithError(err).WithField("transaction_id", id.String()).Error("backfill fulfillment failed")
	case !res.Outcome.Changed():
		result = "unchanged"
	}

	txType := "unknown"
	credited := false
	if res.Outcome != nil {
		txType = string(res.Outcome.Type)
		credited = res.Outcome.WalletCredited
	}
	r.metrics.RecordFulfillment(txType, result, credited)
	return res
}
