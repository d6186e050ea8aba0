package queue

// Stats is a snapshot of one queue
type Stats struct {
	Queue   string `json:"queue"`
	Waiting int64  `json:"waiting"`
	Delayed int64  `json:"delayed"`
	Dead    int64  `json:"dead"`
}

// EnqueueOption adjusts a job before it is stored
type EnqueueOption func(*Job)

// WithMaxRetries sets the maximum number of retries for a job
func WithMaxRetries(maxRetries int) EnqueueOption {
	return func(j *Job) {
		j.MaxRetries = maxRetries
	}
}

// WithJobID sets a specific job ID. While a job with that id is pending or
// running, enqueueing it again returns ErrDuplicateJob.
func WithJobID(id string) EnqueueOption {
	return func(j *Job) {
		j.ID = id
	}
}

func jobKey(id string) string { return "jobs:" + id }
func delayedKey(queue string) string { return "delayed:" + queue }
func deadKey(queue string) string { return "dead:" + queue }
func lockKey(name string) string { return "lock:" + name }
