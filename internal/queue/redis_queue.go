package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eksporyuk/backend/internal/utils"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RedisQueue stores jobs in redis. Ready jobs sit in a list per queue,
// delayed jobs in a sorted set scored by run time, and every job's latest
// state in a hash under jobs:<id>.
type RedisQueue struct {
	client  *redis.Client
	log     logrus.FieldLogger
	backoff utils.BackoffConfig
	ttl     time.Duration
	now     func() time.Time
}

// NewRedisQueue creates a new Redis queue
func NewRedisQueue(client *redis.Client, backoff utils.BackoffConfig, log logrus.FieldLogger) *RedisQueue {
	if backoff.Initial == 0 {
		backoff = utils.DefaultBackoff
	}
	return &RedisQueue{
		client:  client,
		log:     log,
		backoff: backoff,
		ttl:     DefaultTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (q *RedisQueue) newJob(queueName string, payload interface{}, runAt time.Time, opts []EnqueueOption) (*Job, []byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := q.now()
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      queueName,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
		RunAt:      runAt,
	}
	for _, opt := range opts {
		opt(job)
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return job, jobBytes, nil
}

// claim stores the job record, refusing when a job with the same id is
// still pending or running.
func (q *RedisQueue) claim(ctx context.Context, job *Job, jobBytes []byte) error {
	created, err := q.client.HSetNX(ctx, jobKey(job.ID), "data", jobBytes).Result()
	if err != nil {
		return fmt.Errorf("failed to store job details: %w", err)
	}
	if !created {
		existing, err := q.GetJob(ctx, job.ID)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return err
		}
		if existing != nil && existing.active() {
			return ErrDuplicateJob
		}
		if err := q.client.HSet(ctx, jobKey(job.ID), "data", jobBytes).Err(); err != nil {
			return fmt.Errorf("failed to store job details: %w", err)
		}
	}
	if err := q.client.Expire(ctx, jobKey(job.ID), q.ttl).Err(); err != nil {
		q.log.WithError(err).WithField("job_id", job.ID).Warn("failed to set TTL on job")
	}
	return nil
}

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	job, jobBytes, err := q.newJob(queueName, payload, q.now(), opts)
	if err != nil {
		return "", err
	}
	if err := q.claim(ctx, job, jobBytes); err != nil {
		return job.ID, err
	}
	if err := q.client.LPush(ctx, queueName, job.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to push job to queue: %w", err)
	}
	return job.ID, nil
}

// EnqueueIn adds a job to the queue with a delay
func (q *RedisQueue) EnqueueIn(ctx context.Context, queueName string, payload interface{}, delay time.Duration, opts ...EnqueueOption) (string, error) {
	job, jobBytes, err := q.newJob(queueName, payload, q.now().Add(delay), opts)
	if err != nil {
		return "", err
	}
	if err := q.claim(ctx, job, jobBytes); err != nil {
		return job.ID, err
	}
	if err := q.client.ZAdd(ctx, delayedKey(queueName), &redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return job.ID, nil
}

// Schedule adds a job to the queue to run at a specific time
func (q *RedisQueue) Schedule(ctx context.Context, queueName string, payload interface{}, runAt time.Time, opts ...EnqueueOption) (string, error) {
	delay := runAt.Sub(q.now())
	if delay <= 0 {
		return q.Enqueue(ctx, queueName, payload, opts...)
	}
	return q.EnqueueIn(ctx, queueName, payload, delay, opts...)
}

// GetJob loads a job's latest state
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.HGet(ctx, jobKey(jobID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job details: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, job *Job) error {
	job.UpdatedAt = q.now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, jobKey(job.ID), "data", data).Err(); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// Dequeue takes the next ready job, waiting up to timeout when the queue
// is empty. It returns nil when nothing is ready.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	if _, err := q.moveReadyDelayedJobs(ctx, queueName); err != nil {
		q.log.WithError(err).WithField("queue", queueName).Warn("error moving delayed jobs")
	}

	var jobID string
	if timeout > 0 {
		result, err := q.client.BRPop(ctx, timeout, queueName).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job from queue: %w", err)
		}
		if len(result) < 2 {
			return nil, fmt.Errorf("unexpected result format from BRPOP")
		}
		jobID = result[1]
	} else {
		id, err := q.client.RPop(ctx, queueName).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job from queue: %w", err)
		}
		jobID = id
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatusProcessing
	if err := q.save(ctx, job); err != nil {
		q.log.WithError(err).WithField("job_id", jobID).Warn("failed to update job status")
	}
	return job, nil
}

// moveReadyDelayedJobs moves delayed jobs whose run time has passed to the
// main queue. A job is pushed only by the caller whose ZREM removed it, so
// concurrent workers never move the same job twice.
func (q *RedisQueue) moveReadyDelayedJobs(ctx context.Context, queueName string) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey(queueName), id).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queueName, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = JobStatusCompleted
	job.LastError = ""
	return q.save(ctx, job)
}

// Fail records a failed attempt. The job is retried after a backoff delay
// until MaxRetries is used up or the error is permanent; then it moves to
// the dead letter list. It reports whether a retry was scheduled.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, jobErr error) (bool, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	if job.RetryCount < job.MaxRetries && !IsPermanent(jobErr) {
		return true, q.retry(ctx, job, q.backoff.Delay(job.RetryCount+1))
	}

	job.Status = JobStatusDead
	if err := q.save(ctx, job); err != nil {
		return false, err
	}
	if err := q.client.LPush(ctx, deadKey(job.Queue), job.ID).Err(); err != nil {
		return false, fmt.Errorf("failed to push job to dead letter list: %w", err)
	}
	return false, nil
}

// Retry schedules a job to run again after delay
func (q *RedisQueue) Retry(ctx context.Context, jobID string, delay time.Duration) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return q.retry(ctx, job, delay)
}

func (q *RedisQueue) retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.Status = JobStatusPending
	job.RetryCount++
	job.RunAt = q.now().Add(delay)
	if err := q.save(ctx, job); err != nil {
		return err
	}

	if err := q.client.ZAdd(ctx, delayedKey(job.Queue), &redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return nil
}

// Stats reports how many jobs are waiting, delayed and dead in a queue
func (q *RedisQueue) Stats(ctx context.Context, queueName string) (*Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, queueName)
	delayed := pipe.ZCard(ctx, delayedKey(queueName))
	dead := pipe.LLen(ctx, deadKey(queueName))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &Stats{
		Queue:   queueName,
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
	}, nil
}
