package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	TransactionID string `json:"transaction_id"`
}

func setupTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	q := NewRedisQueue(client, utils.BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2}, logger.Discard())
	return q, mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, QueueFulfillment, testPayload{TransactionID: "tx-1"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobStatusProcessing, job.Status)

	var payload testPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "tx-1", payload.TransactionID)

	empty, err := q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, q.Complete(ctx, id))
	stored, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
}

func TestEnqueueWithJobIDDeduplicates(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, QueueFulfillment, testPayload{}, WithJobID("fulfill:tx-1"))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, QueueFulfillment, testPayload{}, WithJobID("fulfill:tx-1"))
	assert.ErrorIs(t, err, ErrDuplicateJob)

	job, err := q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.ID))

	// A finished job may be queued again.
	_, err = q.Enqueue(ctx, QueueFulfillment, testPayload{}, WithJobID("fulfill:tx-1"))
	assert.NoError(t, err)

	stats, err := q.Stats(ctx, QueueFulfillment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestDelayedJobs(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	id, err := q.EnqueueIn(ctx, QueueFulfillment, testPayload{}, time.Minute)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)
	assert.Nil(t, job)

	now = now.Add(2 * time.Minute)
	job, err = q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	id, err := q.Enqueue(ctx, QueueFulfillment, testPayload{}, WithMaxRetries(1))
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, id, errors.New("db timeout"))
	require.NoError(t, err)
	assert.True(t, retried)

	stats, err := q.Stats(ctx, QueueFulfillment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	now = now.Add(time.Hour)
	job, err := q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "db timeout", job.LastError)

	retried, err = q.Fail(ctx, id, errors.New("db timeout"))
	require.NoError(t, err)
	assert.False(t, retried)

	stored, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDead, stored.Status)

	stats, err = q.Stats(ctx, QueueFulfillment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)
	assert.Zero(t, stats.Delayed)
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, QueueFulfillment, testPayload{})
	require.NoError(t, err)

	retried, err := q.Fail(ctx, id, Permanent(errors.New("transaction not found")))
	require.NoError(t, err)
	assert.False(t, retried)

	stored, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDead, stored.Status)
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
}

func TestJobProcessor(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	var handled int32
	p := NewJobProcessor(q, 2, logger.Discard(), nil)
	p.pollInterval = 10 * time.Millisecond
	p.RegisterHandler(QueueFulfillment, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, QueueFulfillment, testPayload{})
		require.NoError(t, err)
	}

	p.Start(ctx)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 3 }, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	stats, err := q.Stats(ctx, QueueFulfillment)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
}

func TestProcessJobRecordsFailures(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	p := NewJobProcessor(q, 1, logger.Discard(), nil)
	p.RegisterHandler(QueueFulfillment, func(ctx context.Context, job *Job) error {
		return errors.New("boom")
	})

	id, err := q.Enqueue(ctx, QueueFulfillment, testPayload{})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, QueueFulfillment, 0)
	require.NoError(t, err)

	assert.Error(t, p.ProcessJob(ctx, job))
	stored, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	orphan := &Job{ID: "unknown-queue-job", Queue: "nowhere"}
	require.NoError(t, q.save(ctx, orphan))
	err = p.ProcessJob(ctx, orphan)
	assert.True(t, IsPermanent(err))
}

func TestLocker(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()
	locker := NewLocker(q.client)

	lock, err := locker.Acquire(ctx, "fulfill:tx-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "fulfill:tx-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	again, err := locker.Acquire(ctx, "fulfill:tx-1", time.Minute)
	require.NoError(t, err)

	// An expired lock taken by someone else survives a stale release.
	mr.FastForward(2 * time.Minute)
	other, err := locker.Acquire(ctx, "fulfill:tx-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
	assert.True(t, mr.Exists(lockKey("fulfill:tx-1")))
	require.NoError(t, other.Release(ctx))
	assert.False(t, mr.Exists(lockKey("fulfill:tx-1")))

}
