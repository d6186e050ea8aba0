package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Handler processes one job. Returning an error wrapped with Permanent
// skips the remaining retries.
type Handler func(ctx context.Context, job *Job) error

// JobProcessor processes jobs from queues
type JobProcessor struct {
	queue          *RedisQueue
	handlers       map[string]Handler
	workerCount    int
	pollInterval   time.Duration
	log            logrus.FieldLogger
	metrics        *metrics.Metrics
	wg             sync.WaitGroup
	processingJobs sync.Map
	cancel         context.CancelFunc
}

// NewJobProcessor creates a new JobProcessor. m may be nil.
func NewJobProcessor(queue *RedisQueue, workerCount int, log logrus.FieldLogger, m *metrics.Metrics) *JobProcessor {
	if workerCount < 1 {
		workerCount = 1
	}
	return &JobProcessor{
		queue:        queue,
		handlers:     make(map[string]Handler),
		workerCount:  workerCount,
		pollInterval: time.Second,
		log:          log,
		metrics:      m,
	}
}

// RegisterHandler registers a handler for a specific queue
func (p *JobProcessor) RegisterHandler(queueName string, handler Handler) {
	p.handlers[queueName] = handler
}

// Start starts the workers. They stop when ctx is cancelled or Stop is called.
func (p *JobProcessor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.WithField("workers", p.workerCount).Info("starting job processor")

	queues := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		queues = append(queues, name)
	}

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i, queues)
	}
}

// Stop stops the job processor and waits for running jobs to finish
func (p *JobProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("job processor stopped")
}

func (p *JobProcessor) worker(ctx context.Context, id int, queues []string) {
	defer p.wg.Done()

	if len(queues) == 0 {
		p.log.WithField("worker", id).Warn("worker exiting: no queues registered")
		return
	}

	for {
		busy := false
		for _, queueName := range queues {
			if ctx.Err() != nil {
				return
			}
			job, err := p.queue.Dequeue(ctx, queueName, 0)
			if err != nil {
				if ctx.Err() == nil {
					p.log.WithError(err).WithFields(logrus.Fields{"worker": id, "queue": queueName}).Error("error getting job from queue")
				}
				continue
			}
			if job == nil {
				continue
			}
			busy = true
			if err := p.ProcessJob(ctx, job); err != nil {
				p.log.WithError(err).WithFields(logrus.Fields{"worker": id, "job_id": job.ID}).Warn("job failed")
			}
		}

		if busy {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// ProcessJob runs the handler for one dequeued job and records the result
func (p *JobProcessor) ProcessJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}

	start := time.Now()
	handler, ok := p.handlers[job.Queue]
	if !ok {
		err := Permanent(fmt.Errorf("no handler registered for queue: %s", job.Queue))
		if _, ferr := p.queue.Fail(ctx, job.ID, err); ferr != nil {
			p.log.WithError(ferr).WithField("job_id", job.ID).Error("failed to record job failure")
		}
		p.metrics.RecordJob(job.Queue, "failed", time.Since(start))
		return err
	}

	p.processingJobs.Store(job.ID, true)
	err := handler(ctx, job)
	p.processingJobs.Delete(job.ID)

	if err != nil {
		retried, ferr := p.queue.Fail(ctx, job.ID, err)
		if ferr != nil {
			p.log.WithError(ferr).WithField("job_id", job.ID).Error("failed to record job failure")
		}
		result := "failed"
		if retried {
			result = "retried"
		}
		p.metrics.RecordJob(job.Queue, result, time.Since(start))
		return fmt.Errorf("job processing failed: %w", err)
	}

	if err := p.queue.Complete(ctx, job.ID); err != nil {
		p.log.WithError(err).WithField("job_id", job.ID).Error("failed to mark job completed")
	}
	p.metrics.RecordJob(job.Queue, "completed", time.Since(start))
	return nil
}

// IsProcessing checks if a job is currently being processed
func (p *JobProcessor) IsProcessing(jobID string) bool {
	_, ok := p.processingJobs.Load(jobID)
	return ok
}
