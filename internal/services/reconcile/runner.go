// Package reconcile runs the per-user entitlement and wallet checks in
// bulk and backfills transactions whose fulfillment never happened.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Options controls a batch run
type Options struct {
	// UserIDs limits the run; empty means every user with something to check.
	UserIDs                []models.UserID
	DryRun                 bool
	ApplyWalletCorrections bool
	Concurrency            int
	ActorID                *models.UserID
}

// Config tunes the runner
type Config struct {
	Concurrency int
	MaxAttempts int
	Backoff     utils.BackoffConfig
}

// UserResult is the per-user detail of a run
type UserResult struct {
	UserID       models.UserID            `json:"user_id"`
	Entitlements *entitlement.Result      `json:"entitlements,omitempty"`
	Wallet       *ledger.WalletReport     `json:"wallet,omitempty"`
	Correction   *ledger.CorrectionResult `json:"correction,omitempty"`
	Attempts     int                      `json:"attempts"`
	Error        string                   `json:"error,omitempty"`
}

// Corrected reports whether the run changed anything for the user
func (r *UserResult) Corrected() bool {
	if r.Correction != nil {
		return true
	}
	return r.Entitlements != nil && !r.Entitlements.DryRun && r.Entitlements.Changed()
}

// Flagged reports whether the user needs a human to look at them
func (r *UserResult) Flagged() bool {
	if r.Error != "" {
		return false
	}
	if r.Entitlements != nil && r.Entitlements.Flagged() {
		return true
	}
	if r.Wallet != nil && r.Wallet.Drift && r.Correction == nil {
		return true
	}
	if r.Entitlements != nil && r.Entitlements.DryRun &&
		(len(r.Entitlements.MissingCourseIDs) > 0 || len(r.Entitlements.MissingGroupIDs) > 0) {
		return true
	}
	return false
}

func (r *UserResult) outcome() string {
	switch {
	case r.Error != "":
		return "failed"
	case r.Corrected():
		return "corrected"
	case r.Flagged():
		return "flagged"
	}
	return "clean"
}

// Report summarises a batch run
type Report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DryRun     bool         `json:"dry_run"`
	Processed  int          `json:"processed"`
	Corrected  int          `json:"corrected"`
	Flagged    int          `json:"flagged"`
	Failed     int          `json:"failed"`
	Users      []UserResult `json:"users"`
}

// Runner drives the batch operations
type Runner struct {
	db           *gorm.DB
	entitlements *entitlement.Service
	ledger       *ledger.Service
	fulfillment  *fulfillment.Service
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
	cfg          Config
}

// NewRunner creates a new batch runner. m may be nil.
func NewRunner(db *gorm.DB, entitlements *entitlement.Service, ledgerSvc *ledger.Service, fulfillmentSvc *fulfillment.Service, m *metrics.Metrics, log logrus.FieldLogger, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = utils.DefaultBackoff
	}
	return &Runner{
		db:           db,
		entitlements: entitlements,
		ledger:       ledgerSvc,
		fulfillment:  fulfillmentSvc,
		metrics:      m,
		log:          log,
		cfg:          cfg,
	}
}

// retryable reports whether err may go away on its own
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, fulfillment.ErrAffiliateProfileNotFound),
		errors.Is(err, fulfillment.ErrTransactionNotFound),
		errors.Is(err, fulfillment.ErrTransactionNotSuccessful),
		errors.Is(err, fulfillment.ErrMembershipNotFound),
		errors.Is(err, fulfillment.ErrCommissionConfigNotFound):
		return false
	}
	return true
}

func (r *Runner) concurrency(opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	return r.cfg.Concurrency
}

// candidateUsers lists every user with a wallet, an affiliate profile, a
// membership or the premium role.
func (r *Runner) candidateUsers(ctx context.Context) ([]models.UserID, error) {
	var ids []models.UserID
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ?", models.RoleMemberPremium).
		Or("EXISTS (SELECT 1 FROM wallets w WHERE w.user_id = users.id)").
		Or("EXISTS (SELECT 1 FROM affiliate_profiles ap WHERE ap.user_id = users.id)").
		Or("EXISTS (SELECT 1 FROM user_memberships um WHERE um.user_id = users.id)").
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// Run reconciles entitlements and wallets for every selected user. A
// failing user is retried with backoff and then reported; it never stops
// the rest of the run.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC(), DryRun: opts.DryRun}

	userIDs := opts.UserIDs
	if len(userIDs) == 0 {
		var err error
		if userIDs, err = r.candidateUsers(ctx); err != nil {
			return nil, err
		}
	}

	results := make([]UserResult, len(userIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency(opts))

	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			results[i] = r.reconcileUser(gctx, userID, opts)
			// Only cancellation aborts the batch.
			if err := gctx.Err(); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range results {
		res := &results[i]
		report.Processed++
		switch res.outcome() {
		case "failed":
			report.Failed++
		case "corrected":
			report.Corrected++
			if res.Flagged() {
				report.Flagged++
			}
		case "flagged":
			report.Flagged++
		}
		r.metrics.RecordReconciledUser(res.outcome())
	}
	report.Users = results
	report.FinishedAt = time.Now().UTC()
	r.metrics.MarkReconcileRun(report.FinishedAt)

	r.log.WithFields(logrus.Fields{
		"processed": report.Processed,
		"corrected": report.Corrected,
		"flagged":   report.Flagged,
		"failed":    report.Failed,
		"dry_run":   report.DryRun,
	}).Info("reconciliation run finished")
	return report, nil
}

func (r *Runner) reconcileUser(ctx context.Context, userID models.UserID, opts Options) UserResult {
	res := UserResult{UserID: userID}

	attempts, err := utils.Retry(ctx, r.cfg.MaxAttempts, r.cfg.Backoff, retryable, func(ctx context.Context) error {
		ent, err := r.entitlements.Reconcile(ctx, userID, entitlement.Options{DryRun: opts.DryRun, ActorID: opts.ActorID})
		if err != nil {
			return err
		}
		res.Entitlements = ent

		report, err := r.ledger.ReconcileWallet(ctx, userID)
		if err != nil {
			return err
		}
		res.Wallet = report

		if !report.Drift || opts.DryRun || !opts.ApplyWalletCorrections || res.Correction != nil {
			return nil
		}
		correction, err := r.ledger.ApplyCorrection(ctx, userID, ledger.Correction{
			ActorID: opts.ActorID,
			Reason:  "batch reconciliation",
		})
		if errors.Is(err, ledger.ErrNoDrift) {
			return nil
		}
		if err != nil {
			return err
		}
		res.Correction = correction
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		res.Error = err.Error()
		r.log.WithError(err).WithFields(logrus.Fields{
			"user_id":  userID.String(),
			"attempts": attempts,
		}).Error("user reconciliation failed")
	}
	return res
}
