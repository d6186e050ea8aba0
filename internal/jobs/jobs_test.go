package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/commission"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/reconcile"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	db          *gorm.DB
	queue       *queue.RedisQueue
	locker      *queue.Locker
	fulfillment *FulfillmentJob
	reconcile   *ReconcileJob
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := queue.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	db := testutil.NewTestDB(t)
	log := logger.Discard()
	audit := utils.NewAuditLogger(db)
	wallets := wallet.NewWalletService(db, log)
	ent := entitlement.NewService(db, audit, log)
	ful := fulfillment.NewService(db, wallets, ent, commission.Options{}, log)
	led := ledger.NewService(db, wallets, audit, log, testutil.Dec("1"))
	runner := reconcile.NewRunner(db, ent, led, ful, nil, log, reconcile.Config{Concurrency: 1, MaxAttempts: 1})

	locker := queue.NewLocker(client)
	return &harness{
		db:          db,
		queue:       queue.NewRedisQueue(client, utils.DefaultBackoff, log),
		locker:      locker,
		fulfillment: NewFulfillmentJob(ful, locker, nil, log),
		reconcile:   NewReconcileJob(runner, ent, true, log),
	}
}

func TestFulfillmentJob(t *testing.T) {
	h := newHarness(t)
	f := testutil.NewFixtures(t, h.db)
	ctx := context.Background()

	course := f.Course("Riset Pasar")
	plan := f.Membership("Gold", models.DurationTwelveMonths, models.CommissionPercentage, "30", "1000000",
		[]*models.Course{course}, nil)
	buyer := f.User(models.RoleMemberFree)
	txn := f.Transaction(buyer.ID, models.TransactionMembership, models.TransactionSuccess, "1000000", func(tx *models.Transaction) {
		tx.MembershipID = &plan.ID
	})

	t.Run("Success - enqueue is deduplicated and job fulfills", func(t *testing.T) {
		id1, err := EnqueueFulfillment(ctx, h.queue, txn.ID)
		require.NoError(t, err)
		id2, err := EnqueueFulfillment(ctx, h.queue, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, id1, id2)

		stats, err := h.queue.Stats(ctx, queue.QueueFulfillment)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Waiting)

		job, err := h.queue.Dequeue(ctx, queue.QueueFulfillment, 0)
		require.NoError(t, err)
		require.NoError(t, h.fulfillment.Handle(ctx, job))

		var um models.UserMembership
		require.NoError(t, h.db.Where("transaction_id = ?", txn.ID).First(&um).Error)
		assert.Equal(t, models.UserMembershipActive, um.Status)
	})

	t.Run("Held lock is retried later", func(t *testing.T) {
		lock, err := h.locker.Acquire(ctx, fulfillmentJobID(txn.ID), time.Minute)
		require.NoError(t, err)
		defer lock.Release(ctx)

		job := &queue.Job{ID: "manual", Queue: queue.QueueFulfillment, Payload: []byte(`{"transaction_id":"` + txn.ID.String() + `"}`)}
		err = h.fulfillment.Handle(ctx, job)
		assert.ErrorIs(t, err, queue.ErrLockHeld)
		assert.False(t, queue.IsPermanent(err))
	})

	t.Run("Missing transaction is permanent", func(t *testing.T) {
		job := &queue.Job{ID: "missing", Queue: queue.QueueFulfillment, Payload: []byte(`{"transaction_id":"` + uuid.NewString() + `"}`)}
		err := h.fulfillment.Handle(ctx, job)
		assert.True(t, queue.IsPermanent(err))
		assert.ErrorIs(t, err, fulfillment.ErrTransactionNotFound)
	})
}

func TestRunNightly(t *testing.T) {
	h := newHarness(t)
	f := testutil.NewFixtures(t, h.db)
	ctx := context.Background()

	plan := f.Membership("Bulanan", models.DurationOneMonth, models.CommissionFlat, "0", "150000", nil, nil)
	lapsedUser := f.User(models.RoleMemberPremium)
	lapsed := f.ActiveMembership(lapsedUser.ID, plan.ID, nil)
	require.NoError(t, h.db.Model(lapsed).Update("end_date", time.Now().UTC().Add(-time.Hour)).Error)

	buyer := f.User(models.RoleMemberFree)
	missed := f.Transaction(buyer.ID, models.TransactionMembership, models.TransactionSuccess, "150000", func(tx *models.Transaction) {
		tx.MembershipID = &plan.ID
	})

	affUser, profile := f.Affiliate()
	f.Conversion(profile.ID, nil, "75000")
	f.Wallet(affUser.ID, "0", "0")

	require.NoError(t, h.reconcile.RunNightly(ctx))

	var expired models.UserMembership
	require.NoError(t, h.db.First(&expired, "id = ?", lapsed.ID).Error)
	assert.Equal(t, models.UserMembershipExpired, expired.Status)

	var um models.UserMembership
	require.NoError(t, h.db.Where("transaction_id = ?", missed.ID).First(&um).Error)

	var w models.Wallet
	require.NoError(t, h.db.Where("user_id = ?", affUser.ID).First(&w).Error)
	assert.True(t, w.TotalEarnings.Equal(testutil.Dec("75000")))
}

func TestReconcileJobHandle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := EnqueueReconcile(ctx, h.queue, ReconcileJobPayload{DryRun: true})
	require.NoError(t, err)

	job, err := h.queue.Dequeue(ctx, queue.QueueReconcile, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.NoError(t, h.reconcile.Handle(ctx, job))

	bad := &queue.Job{ID: "bad", Queue: queue.QueueReconcile, Payload: []byte(`not json`)}
	assert.True(t, queue.IsPermanent(h.reconcile.Handle(ctx, bad)))
}

func TestScheduler(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(logger.Discard())

	require.NoError(t, s.ScheduleRecurringJobs(context.Background(), h.reconcile, "0 2 * * *"))
	assert.ElementsMatch(t, []string{"nightly_reconcile", "membership_expiry"}, s.Tags())

	bad := NewScheduler(logger.Discard())
	assert.Error(t, bad.ScheduleRecurringJobs(context.Background(), h.reconcile, "not a cron"))
}
