package f

import (
	"context"
	"time"
)

// Queue names. One worker pool runs per queue.
const (
	QueueEmailSync      = "email-sync"
	QueueClassification = "email-classification"
	QueueAgents         = "ai-agents"
	QueueDocumentOCR    = "document-ocr"
	QueueScheduler      = "scheduler"
	QueueDeadLetter     = "dead-letter"
)

// Job priorities. Lower is more urgent. Priority 1 jobs are claimed ahead of
// priority 2 jobs on the same queue; within a priority, insertion order holds
// approximately.
const (
	PriorityUrgent = 1
	PriorityBulk   = 2
)

// EnqueueOptions carries the scheduling contract of one enqueue call.
type EnqueueOptions struct {
	// Key is the idempotency key. While a job with the same key is waiting or
	// active, a second enqueue coalesces with it instead of queueing a duplicate.
	Key         string
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	Retention   time.Duration
}

// QueueClient appends durably queued work. Implementations must honor the
// idempotency-key coalescing contract of EnqueueOptions.Key.
type QueueClient interface {
	Enqueue(ctx context.Context, queue string, jobName string, payload any, opts EnqueueOptions) (string, error)
	Close() error
}

// QueueStats is a point-in-time snapshot of one queue, for operator tooling.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

type JobStatus struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Type          string     `json:"type"`
	Queue         string     `json:"queue"`
	Retried       int        `json:"retried"`
	MaxRetry      int        `json:"max_retry"`
	LastError     string     `json:"last_error,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	NextProcessAt *time.Time `json:"next_process_at,omitempty"`
}

// JobInspector reads queue and job state without mutating it.
type JobInspector interface {
	QueueStats(ctx context.Context, queue string) (*QueueStats, error)
	JobStatus(ctx context.Context, queue string, id string) (*JobStatus, error)
}
