package f

import (
	"context"
	"time"
)

type UserStore interface {
	Get(ctx context.Context, userID string) (*UserEntity, error)
	FindByEmail(ctx context.Context, email string) (*UserEntity, error)
	SaveTokens(ctx context.Context, userID string, accessToken string, refreshToken string) error
}

type EmailStore interface {
	// Upsert writes the message keyed by (UserID, ProviderID) and returns the
	// local row id, stable across reruns.
	Upsert(ctx context.Context, m *EmailMessage) (string, error)
	Get(ctx context.Context, id string) (*EmailMessage, error)
	DeleteByProviderID(ctx context.Context, userID string, providerID string) error
	SetSummary(ctx context.Context, emailID string, summary string) error
	CountByUser(ctx context.Context, userID string) (int, error)
}

type ClassificationStore interface {
	Upsert(ctx context.Context, c *EmailClassification) error
	Get(ctx context.Context, emailID string) (*EmailClassification, error)
	SetFeedback(ctx context.Context, emailID string, category string, feedback string) error
}

type TaskStore interface {
	Insert(ctx context.Context, tasks ...*TaskRecord) error
	// DeleteBySource removes tasks previously extracted from emailID by agent.
	DeleteBySource(ctx context.Context, emailID string, agent string) error
	ListByEmail(ctx context.Context, emailID string) ([]TaskRecord, error)
}

type DocumentStore interface {
	Insert(ctx context.Context, d *Document) (string, error)
	Get(ctx context.Context, id string) (*Document, error)
	ListByEmail(ctx context.Context, emailID string) ([]Document, error)
	SetOCRText(ctx context.Context, id string, text string) error
}

type SOWStore interface {
	Insert(ctx context.Context, s *SOWRecord) (string, error)
	GetByEmail(ctx context.Context, emailID string) (*SOWRecord, error)
}

type ProjectStore interface {
	Insert(ctx context.Context, p *Project) (string, error)
}

type AgentLogStore interface {
	Insert(ctx context.Context, l *AgentLog) error
}

type SyncStateStore interface {
	Get(ctx context.Context, userID string) (*SyncState, error)
	Save(ctx context.Context, s *SyncState) error
	SetError(ctx context.Context, userID string, message string) error
}

type SyncPrefsStore interface {
	Get(ctx context.Context, userID string) (*SyncPreferences, error)
	Upsert(ctx context.Context, p *SyncPreferences) error
	// ListAutoSync returns all users with auto sync enabled.
	ListAutoSync(ctx context.Context) ([]SyncPreferences, error)
	SetWebhookEnabled(ctx context.Context, userID string, enabled bool) error
}

type WatchStore interface {
	Get(ctx context.Context, userID string) (*WatchSubscription, error)
	Upsert(ctx context.Context, w *WatchSubscription) error
	// ListExpiring returns active subscriptions with ExpiresAt before the cutoff.
	ListExpiring(ctx context.Context, before time.Time) ([]WatchSubscription, error)
	RecordRenewalFailure(ctx context.Context, userID string, message string) error
	Deactivate(ctx context.Context, userID string) error
}

type DeadLetterStore interface {
	Insert(ctx context.Context, r *DeadLetterRecord) error
	List(ctx context.Context, limit int) ([]DeadLetterRecord, error)
}

// Stores bundles every persistence surface for wiring.
type Stores struct {
	Users           UserStore
	Emails          EmailStore
	Classifications ClassificationStore
	Tasks           TaskStore
	Documents       DocumentStore
	SOWs            SOWStore
	Projects        ProjectStore
	AgentLogs       AgentLogStore
	SyncState       SyncStateStore
	SyncPrefs       SyncPrefsStore
	Watches         WatchStore
	DeadLetters     DeadLetterStore
}
