// Package jobs defines the typed payloads carried on each queue and the
// producer entry points that enqueue them with stable idempotency keys.
package jobs

import (
	"context"
	"fmt"
	"time"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/log"
)

// Job names, the discriminator within a queue.
const (
	NameSyncEmails    = "sync-emails"
	NameClassifyEmail = "classify-email"
	NameDocumentOCR   = "document-ocr"
	NameDeadLetter    = "dead-letter"
	NameCheckPolling  = "check-polling"
	NameRenewWatches  = "renew-watches"
)

type EmailSyncJob struct {
	UserID   string `json:"user_id"`
	FullSync bool   `json:"full_sync"`
}

type EmailClassificationJob struct {
	EmailID string `json:"email_id"`
	UserID  string `json:"user_id"`
}

type AIAgentJob struct {
	Type     string            `json:"type"`
	EmailID  string            `json:"email_id"`
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type DocumentOCRJob struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	SourceURL  string `json:"source_url"`
	MimeType   string `json:"mime_type"`
}

type SchedulerJob struct {
	Type string `json:"type"`
}

type DeadLetterJob struct {
	OriginalQueue string `json:"original_queue"`
	JobName       string `json:"job_name"`
	Payload       []byte `json:"payload"`
	AttemptsMade  int    `json:"attempts_made"`
	FailedReason  string `json:"failed_reason"`
	Stacktrace    string `json:"stacktrace,omitempty"`
}

// Producer is the enqueue surface exposed to route handlers and to pipeline
// handlers for fan-out.
type Producer interface {
	EnqueueSync(ctx context.Context, userID string, fullSync bool) error
	EnqueueClassification(ctx context.Context, emailID string, userID string) error
	EnqueueAgent(ctx context.Context, agentType string, emailID string, userID string, metadata map[string]string) error
	EnqueueOCR(ctx context.Context, job DocumentOCRJob) error
	EnqueueDeadLetter(ctx context.Context, job DeadLetterJob) error
	EnqueueSchedulerTick(ctx context.Context, tickType string) error
}

type producer struct {
	client f.QueueClient
	now    func() time.Time
}

func NewProducer(client f.QueueClient) Producer {
	return &producer{client: client, now: time.Now}
}

func (p *producer) EnqueueSync(ctx context.Context, userID string, fullSync bool) error {
	priority := f.PriorityUrgent
	if fullSync {
		// Full syncs are best effort and yield to incremental work.
		priority = f.PriorityBulk
	}
	_, err := p.client.Enqueue(ctx, f.QueueEmailSync, NameSyncEmails,
		EmailSyncJob{UserID: userID, FullSync: fullSync},
		f.EnqueueOptions{
			Key:      fmt.Sprintf("email-sync-%s-%d", userID, p.now().UnixMilli()),
			Priority: priority,
		})
	return err
}

func (p *producer) EnqueueClassification(ctx context.Context, emailID string, userID string) error {
	// A burst of updates to the same message collapses into one pending job.
	_, err := p.client.Enqueue(ctx, f.QueueClassification, NameClassifyEmail,
		EmailClassificationJob{EmailID: emailID, UserID: userID},
		f.EnqueueOptions{
			Key:      "classify-" + emailID,
			Priority: f.PriorityUrgent,
		})
	return err
}

func (p *producer) EnqueueAgent(ctx context.Context, agentType string, emailID string, userID string, metadata map[string]string) error {
	priority := f.PriorityBulk
	if agentType == f.AgentSOWGenerator {
		priority = f.PriorityUrgent
	}
	_, err := p.client.Enqueue(ctx, f.QueueAgents, agentType,
		AIAgentJob{Type: agentType, EmailID: emailID, UserID: userID, Metadata: metadata},
		f.EnqueueOptions{
			Key:      fmt.Sprintf("%s-%s", agentType, emailID),
			Priority: priority,
		})
	return err
}

func (p *producer) EnqueueOCR(ctx context.Context, job DocumentOCRJob) error {
	_, err := p.client.Enqueue(ctx, f.QueueDocumentOCR, NameDocumentOCR, job,
		f.EnqueueOptions{
			Key:      "doc-ocr-" + job.DocumentID,
			Priority: f.PriorityUrgent,
		})
	return err
}

func (p *producer) EnqueueDeadLetter(ctx context.Context, job DeadLetterJob) error {
	_, err := p.client.Enqueue(ctx, f.QueueDeadLetter, NameDeadLetter, job,
		f.EnqueueOptions{
			MaxAttempts: 1,
			Retention:   7 * 24 * time.Hour,
		})
	return err
}

func (p *producer) EnqueueSchedulerTick(ctx context.Context, tickType string) error {
	_, err := p.client.Enqueue(ctx, f.QueueScheduler, tickType, SchedulerJob{Type: tickType},
		f.EnqueueOptions{MaxAttempts: 1})
	return err
}

// BestEffort logs and swallows an enqueue error. For fan-out triggers where a
// broker outage must not fail the step that already succeeded.
func BestEffort(op string, err error) {
	if err != nil {
		log.Error("best-effort enqueue %s failed: %v", op, err)
	}
}
