package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// fulfillmentLockTTL bounds how long one worker may hold a transaction
const fulfillmentLockTTL = 2 * time.Minute

// FulfillmentJobPayload represents the payload for a fulfillment job
type FulfillmentJobPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

// FulfillmentJob applies the side effects of a paid transaction
type FulfillmentJob struct {
	fulfillment *fulfillment.Service
	locker      *queue.Locker
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
}

// NewFulfillmentJob creates a new fulfillment job handler
func NewFulfillmentJob(fulfillmentSvc *fulfillment.Service, locker *queue.Locker, m *metrics.Metrics, log logrus.FieldLogger) *FulfillmentJob {
	return &FulfillmentJob{
		fulfillment: fulfillmentSvc,
		locker:      locker,
		metrics:     m,
		log:         log,
	}
}

func fulfillmentJobID(transactionID uuid.UUID) string {
	return "fulfill:" + transactionID.String()
}

// EnqueueFulfillment queues fulfillment of a transaction. A transaction
// already waiting in the queue is not queued twice.
func EnqueueFulfillment(ctx context.Context, q *queue.RedisQueue, transactionID uuid.UUID) (string, error) {
	id, err := q.Enqueue(ctx, queue.QueueFulfillment,
		FulfillmentJobPayload{TransactionID: transactionID},
		queue.WithJobID(fulfillmentJobID(transactionID)),
	)
	if errors.Is(err, queue.ErrDuplicateJob) {
		return id, nil
	}
	return id, err
}

// Handle processes a fulfillment job
func (j *FulfillmentJob) Handle(ctx context.Context, job *queue.Job) error {
	var payload FulfillmentJobPayload
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(fmt.Errorf("failed to unmarshal fulfillment job payload: %w", err))
	}

	// Admin triggers and backfills may race the webhook for the same transaction.
	lock, err := j.locker.Acquire(ctx, fulfillmentJobID(payload.TransactionID), fulfillmentLockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			j.log.WithError(err).Warn("failed to release fulfillment lock")
		}
	}()

	outcome, err := j.fulfillment.Fulfill(ctx, payload.TransactionID)
	if err != nil {
		j.metrics.RecordFulfillment("unknown", "failed", false)
		if permanentFulfillmentError(err) {
			return queue.Permanent(err)
		}
		return err
	}

	result := "unchanged"
	if outcome.Changed() {
		result = "applied"
	}
	j.metrics.RecordFulfillment(string(outcome.Type), result, outcome.WalletCredited)
	return nil
}

// permanentFulfillmentError reports errors that need data fixed first. The
// nightly backfill picks those transactions up again once it is.
func permanentFulfillmentError(err error) bool {
	return errors.Is(err, fulfillment.ErrTransactionNotFound) ||
		errors.Is(err, fulfillment.ErrTransactionNotSuccessful) ||
		errors.Is(err, fulfillment.ErrMembershipNotFound) ||
		errors.Is(err, fulfillment.ErrAffiliateProfileNotFound) ||
		errors.Is(err, fulfillment.ErrCommissionConfigNotFound)
}
