package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	f "github.com/inboxpilot/inboxpilot/core"
)

// MemoryJob is one recorded enqueue on the in-memory queue.
type MemoryJob struct {
	ID      string
	Queue   string
	Name    string
	Key     string
	Payload []byte
	Opts    f.EnqueueOptions
}

// MemoryQueue is an in-process QueueClient honoring the idempotency-key
// coalescing contract. Used by tests and local development without Redis.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int
	jobs    []MemoryJob
	pending map[string]bool
	// FailNext makes the next enqueue fail, for broker-outage paths.
	FailNext error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]bool)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, jobName string, payload any, opts f.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailNext != nil {
		err := q.FailNext
		q.FailNext = nil
		return "", err
	}
	if opts.Key != "" && q.pending[opts.Key] {
		return opts.Key, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.seq++
	id := fmt.Sprintf("mem-%d", q.seq)
	q.jobs = append(q.jobs, MemoryJob{
		ID: id, Queue: queue, Name: jobName, Key: opts.Key, Payload: data, Opts: opts,
	})
	if opts.Key != "" {
		q.pending[opts.Key] = true
	}
	return id, nil
}

func (q *MemoryQueue) Close() error { return nil }

// Jobs returns every recorded job, optionally filtered by queue.
func (q *MemoryQueue) Jobs(queue string) []MemoryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if queue == "" {
		return append([]MemoryJob(nil), q.jobs...)
	}
	var out []MemoryJob
	for _, j := range q.jobs {
		if j.Queue == queue {
			out = append(out, j)
		}
	}
	return out
}

// Complete releases a pending idempotency key, as job completion would.
func (q *MemoryQueue) Complete(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, key)
}

func (q *MemoryQueue) QueueStats(ctx context.Context, queue string) (*f.QueueStats, error) {
	return &f.QueueStats{Waiting: len(q.Jobs(queue))}, nil
}

func (q *MemoryQueue) JobStatus(ctx context.Context, queue string, id string) (*f.JobStatus, error) {
	for _, j := range q.Jobs(queue) {
		if j.ID == id || j.Key == id {
			return &f.JobStatus{ID: j.ID, Status: "waiting", Type: j.Name, Queue: queue}, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", id)
}
