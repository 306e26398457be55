package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/log"
)

const (
	defaultMaxAttempts = 3
	// Completed tasks are kept around so queue stats report them; without a
	// retention asynq deletes them the moment they succeed.
	defaultRetention = time.Hour
)

// AsynqQueue implements QueueClient and JobInspector on top of Asynq.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewAsynqQueueProvider(redisURL string) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %v", err)
	}
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}, nil
}

func MustNewAsynqQueueProvider(redisURL string) *AsynqQueue {
	queue, err := NewAsynqQueueProvider(redisURL)
	if err != nil {
		panic(err)
	}
	return queue
}

// bulkQueue is the low-weight sibling a pool serves alongside its main queue.
// Priority-2 jobs land there so urgent work is claimed first.
func bulkQueue(queue string) string {
	return queue + "-bulk"
}

func (q *AsynqQueue) Enqueue(ctx context.Context, queue string, jobName string, payload any, opts f.EnqueueOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	target := queue
	if opts.Priority >= f.PriorityBulk {
		target = bulkQueue(queue)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	taskOpts := []asynq.Option{
		asynq.Queue(target),
		asynq.MaxRetry(maxAttempts - 1),
	}
	if opts.Key != "" {
		taskOpts = append(taskOpts, asynq.TaskID(opts.Key))
	}
	if opts.Delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(opts.Delay))
	}
	taskOpts = append(taskOpts, asynq.Retention(retentionFor(opts)))

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(jobName, data), taskOpts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Same logical work is already pending; coalesce instead of duplicating.
		log.Debug("job coalesced key=%s (%s)", opts.Key, jobName)
		return opts.Key, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info("job enqueued id=%s queue=%s (%s)", info.ID, target, jobName)
	return info.ID, nil
}

func retentionFor(opts f.EnqueueOptions) time.Duration {
	if opts.Retention > 0 {
		return opts.Retention
	}
	return defaultRetention
}

func (q *AsynqQueue) QueueStats(ctx context.Context, queue string) (*f.QueueStats, error) {
	stats := &f.QueueStats{}
	found := false
	for _, name := range []string{queue, bulkQueue(queue)} {
		info, err := q.inspector.GetQueueInfo(name)
		if err != nil {
			continue
		}
		found = true
		stats.Waiting += info.Pending
		stats.Active += info.Active
		stats.Completed += info.Completed
		stats.Failed += info.Archived
		stats.Delayed += info.Scheduled + info.Retry
	}
	if !found {
		return nil, fmt.Errorf("unknown queue: %s", queue)
	}
	return stats, nil
}

func (q *AsynqQueue) JobStatus(ctx context.Context, queue string, id string) (*f.JobStatus, error) {
	for _, name := range []string{queue, bulkQueue(queue)} {
		info, err := q.inspector.GetTaskInfo(name, id)
		if err != nil {
			continue
		}
		status := &f.JobStatus{
			ID:        info.ID,
			Status:    mapTaskState(info.State),
			Type:      info.Type,
			Queue:     queue,
			Retried:   info.Retried,
			MaxRetry:  info.MaxRetry,
			LastError: info.LastErr,
		}
		if !info.CompletedAt.IsZero() {
			status.CompletedAt = &info.CompletedAt
		}
		if !info.NextProcessAt.IsZero() {
			status.NextProcessAt = &info.NextProcessAt
		}
		return status, nil
	}
	return nil, fmt.Errorf("job not found: %s", id)
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

func mapTaskState(state asynq.TaskState) string {
	switch state {
	case asynq.TaskStatePending:
		return "waiting"
	case asynq.TaskStateActive:
		return "active"
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return "delayed"
	case asynq.TaskStateArchived:
		return "failed"
	case asynq.TaskStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}
