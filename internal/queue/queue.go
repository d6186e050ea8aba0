// Package queue is a redis-backed job queue with delayed retries, a worker
// pool that drains it, and short-lived locks for serialising work per key.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDead       JobStatus = "dead"
)

// Queue names
const (
	QueueFulfillment = "fulfillment"
	QueueReconcile   = "reconcile"
)

const (
	DefaultMaxRetries = 5
	DefaultTTL        = 7 * 24 * time.Hour
)

// ErrDuplicateJob is returned when a job with the same id is still pending or running
var ErrDuplicateJob = errors.New("job with this id is already queued")

// ErrJobNotFound is returned when a job's record has expired or never existed
var ErrJobNotFound = errors.New("job not found")

// Job is a unit of background work
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RunAt      time.Time       `json:"run_at"`
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

func (j *Job) active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusProcessing
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the processor sends the job straight to the dead
// letter list instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
