package f

import (
	"time"

	"github.com/uptrace/bun"
)

type UserEntity struct {
	bun.BaseModel `bun:"table:users"`
	ID            string     `bun:",pk" json:"id"`
	Email         string     `json:"email"`
	AccessToken   string     `bun:"access_token" json:"-"`
	RefreshToken  string     `bun:"refresh_token" json:"-"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// EmailMessage is one synced mailbox message, keyed locally by ID and upserted
// by (UserID, ProviderID) so reruns never duplicate rows.
type EmailMessage struct {
	bun.BaseModel  `bun:"table:email_messages"`
	ID             string     `bun:",pk" json:"id"`
	UserID         string     `bun:"user_id" json:"user_id"`
	ProviderID     string     `bun:"provider_id" json:"provider_id"`
	ThreadID       string     `bun:"thread_id" json:"thread_id"`
	Subject        string     `json:"subject"`
	FromEmail      string     `bun:"from_email" json:"from_email"`
	FromName       string     `bun:"from_name" json:"from_name"`
	ToEmail        string     `bun:"to_email" json:"to_email"`
	Snippet        string     `json:"snippet"`
	BodyPlain      string     `bun:"body_plain" json:"body_plain"`
	BodyHTML       string     `bun:"body_html" json:"-"`
	Labels         []string   `json:"labels"`
	HasAttachments bool       `bun:"has_attachments" json:"has_attachments"`
	IsRead         bool       `bun:"is_read" json:"is_read"`
	IsStarred      bool       `bun:"is_starred" json:"is_starred"`
	Summary        string     `json:"summary,omitempty"`
	ReceivedAt     *time.Time `bun:"received_at" json:"received_at,omitempty"`
}

// EmailClassification has at most one row per email; reclassification overwrites.
type EmailClassification struct {
	bun.BaseModel   `bun:"table:email_classifications"`
	EmailID         string     `bun:"email_id,pk" json:"email_id"`
	Category        string     `json:"category"`
	Priority        string     `json:"priority"`
	Sentiment       string     `json:"sentiment"`
	Tags            []string   `json:"tags"`
	AssignedAgents  []string   `bun:"assigned_agents" json:"assigned_agents"`
	ConfidenceScore float64    `bun:"confidence_score" json:"confidence_score"`
	UserFeedback    string     `bun:"user_feedback" json:"user_feedback,omitempty"`
	ClassifiedAt    *time.Time `bun:"classified_at" json:"classified_at,omitempty"`
}

type TaskRecord struct {
	bun.BaseModel `bun:"table:tasks"`
	ID            string     `bun:",pk" json:"id"`
	UserID        string     `bun:"user_id" json:"user_id"`
	EmailID       string     `bun:"email_id" json:"email_id"`
	SourceAgent   string     `bun:"source_agent" json:"source_agent"`
	Title         string     `json:"title"`
	Notes         string     `json:"notes"`
	Priority      string     `json:"priority"`
	DueDate       string     `bun:"due_date" json:"due_date,omitempty"`
	ProjectID     string     `bun:"project_id" json:"project_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at" json:"created_at,omitempty"`
}

type Document struct {
	bun.BaseModel  `bun:"table:documents"`
	ID             string     `bun:",pk" json:"id"`
	UserID         string     `bun:"user_id" json:"user_id"`
	EmailID        string     `bun:"email_id" json:"email_id,omitempty"`
	Filename       string     `json:"filename"`
	MimeType       string     `bun:"mime_type" json:"mime_type"`
	SourceURL      string     `bun:"source_url" json:"source_url"`
	OCRText        string     `bun:"ocr_text" json:"ocr_text,omitempty"`
	OCRCompletedAt *time.Time `bun:"ocr_completed_at" json:"ocr_completed_at,omitempty"`
}

type SOWRecord struct {
	bun.BaseModel `bun:"table:sow_documents"`
	ID            string     `bun:",pk" json:"id"`
	UserID        string     `bun:"user_id" json:"user_id"`
	EmailID       string     `bun:"email_id" json:"email_id"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	ArtifactID    string     `bun:"artifact_id" json:"artifact_id,omitempty"`
	ArtifactURL   string     `bun:"artifact_url" json:"artifact_url,omitempty"`
	CreatedAt     *time.Time `bun:"created_at" json:"created_at,omitempty"`
}

type Project struct {
	bun.BaseModel `bun:"table:projects"`
	ID            string     `bun:",pk" json:"id"`
	UserID        string     `bun:"user_id" json:"user_id"`
	Name          string     `json:"name"`
	SourceEmailID string     `bun:"source_email_id" json:"source_email_id,omitempty"`
	FolderID      string     `bun:"folder_id" json:"folder_id,omitempty"`
	TrackerID     string     `bun:"tracker_id" json:"tracker_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at" json:"created_at,omitempty"`
}

type AgentLog struct {
	bun.BaseModel `bun:"table:agent_logs"`
	ID            string     `bun:",pk" json:"id"`
	UserID        string     `bun:"user_id" json:"user_id"`
	EmailID       string     `bun:"email_id" json:"email_id,omitempty"`
	AgentType     string     `bun:"agent_type" json:"agent_type"`
	Action        string     `json:"action"`
	Success       bool       `json:"success"`
	Detail        string     `json:"detail,omitempty"`
	CreatedAt     *time.Time `bun:"created_at" json:"created_at,omitempty"`
}

const (
	SyncStatusActive = "active"
	SyncStatusPaused = "paused"
	SyncStatusError  = "error"
)

// SyncState tracks one user's position against the upstream mailbox. Mutated
// only by the sync handler at the end of an attempt.
type SyncState struct {
	bun.BaseModel `bun:"table:email_sync_state"`
	UserID        string     `bun:"user_id,pk" json:"user_id"`
	LastCursor    string     `bun:"last_cursor" json:"last_cursor"`
	LastSyncAt    *time.Time `bun:"last_sync_at" json:"last_sync_at,omitempty"`
	TotalSynced   int        `bun:"total_synced" json:"total_synced"`
	Status        string     `json:"status"`
	ErrorMessage  string     `bun:"error_message" json:"error_message,omitempty"`
}

const (
	StrategyWebhook = "webhook"
	StrategyPolling = "polling"
	StrategyHybrid  = "hybrid"
)

// SyncPreferences is user-owned configuration; never mutated by workers.
type SyncPreferences struct {
	bun.BaseModel          `bun:"table:user_sync_preferences"`
	UserID                 string `bun:"user_id,pk" json:"user_id"`
	Strategy               string `bun:"sync_strategy" json:"sync_strategy"`
	AutoSyncEnabled        bool   `bun:"auto_sync_enabled" json:"auto_sync_enabled"`
	PollingEnabled         bool   `bun:"polling_enabled" json:"polling_enabled"`
	WebhookEnabled         bool   `bun:"webhook_enabled" json:"webhook_enabled"`
	PollingIntervalMinutes int    `bun:"polling_interval_minutes" json:"polling_interval_minutes"`
}

// WatchSubscription is the push-notification registration with the provider.
type WatchSubscription struct {
	bun.BaseModel       `bun:"table:watch_subscriptions"`
	UserID              string     `bun:"user_id,pk" json:"user_id"`
	Topic               string     `json:"topic"`
	StartedAt           *time.Time `bun:"started_at" json:"started_at,omitempty"`
	ExpiresAt           *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	IsActive            bool       `bun:"is_active" json:"is_active"`
	LastRenewedAt       *time.Time `bun:"last_renewed_at" json:"last_renewed_at,omitempty"`
	RenewalAttemptCount int        `bun:"renewal_attempt_count" json:"renewal_attempt_count"`
	LastError           string     `bun:"last_error" json:"last_error,omitempty"`
}

// DeadLetterRecord is created exactly once per permanently failed job and is
// immutable afterwards.
type DeadLetterRecord struct {
	bun.BaseModel `bun:"table:dead_letters"`
	ID            string     `bun:",pk" json:"id"`
	OriginalQueue string     `bun:"original_queue" json:"original_queue"`
	JobName       string     `bun:"job_name" json:"job_name"`
	Payload       string     `json:"payload"`
	AttemptsMade  int        `bun:"attempts_made" json:"attempts_made"`
	FailedReason  string     `bun:"failed_reason" json:"failed_reason"`
	Stacktrace    string     `json:"stacktrace,omitempty"`
	CreatedAt     *time.Time `bun:"created_at" json:"created_at,omitempty"`
}
