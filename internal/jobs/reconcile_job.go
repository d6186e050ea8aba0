package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/reconcile"
	"github.com/sirupsen/logrus"
)

// ReconcileJobPayload represents the payload for an on-demand reconciliation run
type ReconcileJobPayload struct {
	UserIDs                []models.UserID `json:"user_ids,omitempty"`
	DryRun                 bool            `json:"dry_run"`
	ApplyWalletCorrections bool            `json:"apply_wallet_corrections"`
	ActorID                *models.UserID  `json:"actor_id,omitempty"`
}

// ReconcileJob runs batch reconciliation and membership expiry
type ReconcileJob struct {
	runner           *reconcile.Runner
	entitlements     *entitlement.Service
	applyCorrections bool
	log              logrus.FieldLogger
	now              func() time.Time
}

// NewReconcileJob creates a new reconciliation job. applyCorrections
// controls whether the nightly run corrects wallets or only reports.
func NewReconcileJob(runner *reconcile.Runner, entitlements *entitlement.Service, applyCorrections bool, log logrus.FieldLogger) *ReconcileJob {
	return &ReconcileJob{
		runner:           runner,
		entitlements:     entitlements,
		applyCorrections: applyCorrections,
		log:              log,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueReconcile queues an on-demand reconciliation run
func EnqueueReconcile(ctx context.Context, q *queue.RedisQueue, payload ReconcileJobPayload) (string, error) {
	return q.Enqueue(ctx, queue.QueueReconcile, payload, queue.WithMaxRetries(1))
}

// Handle processes an on-demand reconciliation job
func (j *ReconcileJob) Handle(ctx context.Context, job *queue.Job) error {
	var payload ReconcileJobPayload
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(fmt.Errorf("failed to unmarshal reconcile job payload: %w", err))
	}

	_, err := j.runner.Run(ctx, reconcile.Options{
		UserIDs:                payload.UserIDs,
		DryRun:                 payload.DryRun,
		ApplyWalletCorrections: payload.ApplyWalletCorrections,
		ActorID:                payload.ActorID,
	})
	return err
}

// RunNightly expires lapsed memberships, backfills missed fulfillments and
// then reconciles every user.
func (j *ReconcileJob) RunNightly(ctx context.Context) error {
	expired, err := j.entitlements.ExpireMemberships(ctx, j.now())
	if err != nil {
		return fmt.Errorf("membership expiry failed: %w", err)
	}

	backfill, err := j.runner.BackfillTransactions(ctx, reconcile.Options{})
	if err != nil {
		return fmt.Errorf("transaction backfill failed: %w", err)
	}

	report, err := j.runner.Run(ctx, reconcile.Options{ApplyWalletCorrections: j.applyCorrections})
	if err != nil {
		return fmt.Errorf("reconciliation run failed: %w", err)
	}

	j.log.WithFields(logrus.Fields{
		"expired_memberships":   expired,
		"backfilled":            backfill.Fulfilled,
		"backfill_failed":       backfill.Failed,
		"duplicate_memberships": len(backfill.DuplicateMemberships),
		"corrected":             report.Corrected,
		"flagged":               report.Flagged,
		"failed":                report.Failed,
	}).Info("nightly reconciliation finished")
	return nil
}

// ExpireMemberships marks lapsed memberships EXPIRED
func (j *ReconcileJob) ExpireMemberships(ctx context.Context) error {
	n, err := j.entitlements.ExpireMemberships(ctx, j.now())
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.WithField("expired", n).Info("memberships expired")
	}
	return nil
}
