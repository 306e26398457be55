package jobs_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/inboxpilot/inboxpilot/adapters"
	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/jobs"
)

func TestEnqueueClassification_CoalescesByKey(t *testing.T) {
	queue := adapters.NewMemoryQueue()
	producer := jobs.NewProducer(queue)
	ctx := context.Background()

	assert.Equal(t, producer.EnqueueClassification(ctx, "em-1", "u-1"), nil)
	assert.Equal(t, producer.EnqueueClassification(ctx, "em-1", "u-1"), nil)
	assert.Equal(t, producer.EnqueueClassification(ctx, "em-2", "u-1"), nil)

	pending := queue.Jobs(f.QueueClassification)
	assert.Equal(t, len(pending), 2)
	assert.Equal(t, pending[0].Key, "classify-em-1")
	assert.Equal(t, pending[1].Key, "classify-em-2")
}

func TestEnqueueClassification_ReenqueueAfterCompletion(t *testing.T) {
	queue := adapters.NewMemoryQueue()
	producer := jobs.NewProducer(queue)
	ctx := context.Background()

	assert.Equal(t, producer.EnqueueClassification(ctx, "em-1", "u-1"), nil)
	queue.Complete("classify-em-1")
	assert.Equal(t, producer.EnqueueClassification(ctx, "em-1", "u-1"), nil)

	assert.Equal(t, len(queue.Jobs(f.QueueClassification)), 2)
}

func TestEnqueueSync_FullSyncYieldsToIncremental(t *testing.T) {
	queue := adapters.NewMemoryQueue()
	producer := jobs.NewProducer(queue)
	ctx := context.Background()

	assert.Equal(t, producer.EnqueueSync(ctx, "u-1", true), nil)
	assert.Equal(t, producer.EnqueueSync(ctx, "u-2", false), nil)

	pending := queue.Jobs(f.QueueEmailSync)
	assert.Equal(t, len(pending), 2)
	assert.Equal(t, pending[0].Opts.Priority, f.PriorityBulk)
	assert.Equal(t, pending[1].Opts.Priority, f.PriorityUrgent)

	var job jobs.EmailSyncJob
	assert.Equal(t, json.Unmarshal(pending[0].Payload, &job), nil)
	assert.Equal(t, job.UserID, "u-1")
	assert.Equal(t, job.FullSync, true)
}

func TestEnqueueAgent_KeyAndPriority(t *testing.T) {
	queue := adapters.NewMemoryQueue()
	producer := jobs.NewProducer(queue)
	ctx := context.Background()

	assert.Equal(t, producer.EnqueueAgent(ctx, f.AgentSOWGenerator, "em-1", "u-1", nil), nil)
	assert.Equal(t, producer.EnqueueAgent(ctx, f.AgentTaskExtractor, "em-1", "u-1", nil), nil)

	pending := queue.Jobs(f.QueueAgents)
	assert.Equal(t, len(pending), 2)
	assert.Equal(t, pending[0].Key, "sow-generator-em-1")
	assert.Equal(t, pending[0].Opts.Priority, f.PriorityUrgent)
	assert.Equal(t, pending[1].Key, "task-extractor-em-1")
	assert.Equal(t, pending[1].Opts.Priority, f.PriorityBulk)
}

func TestEnqueueDeadLetter_NoRetries(t *testing.T) {
	queue := adapters.NewMemoryQueue()
	producer := jobs.NewProducer(queue)

	job := jobs.DeadLetterJob{
		OriginalQueue: f.QueueClassification,
		JobName:       jobs.NameClassifyEmail,
		AttemptsMade:  3,
		FailedReason:  "llm unavailable",
	}
	assert.Equal(t, producer.EnqueueDeadLetter(context.Background(), job), nil)

	pending := queue.Jobs(f.QueueDeadLetter)
	assert.Equal(t, len(pending), 1)
	assert.Equal(t, pending[0].Opts.MaxAttempts, 1)
}

func TestBestEffort_SwallowsError(t *testing.T) {
	queue := adapters.NewMemoryQueue()
	queue.FailNext = context.DeadlineExceeded
	producer := jobs.NewProducer(queue)

	// Must not panic; the error is logged and dropped.
	jobs.BestEffort("classification", producer.EnqueueClassification(context.Background(), "em-1", "u-1"))
	assert.Equal(t, len(queue.Jobs(f.QueueClassification)), 0)
}
