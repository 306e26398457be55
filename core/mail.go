package f

import (
	"context"
	"time"
)

type MailAttachment struct {
	AttachmentID string
	Filename     string
	MimeType     string
}

// MailMessage is the provider-neutral shape of one mailbox message.
type MailMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	FromName    string
	To          string
	Snippet     string
	BodyPlain   string
	BodyHTML    string
	Labels      []string
	Unread      bool
	Starred     bool
	ReceivedAt  time.Time
	Attachments []MailAttachment
}

type MessagePage struct {
	IDs           []string
	NextPageToken string
}

// HistoryDelta is the change set since a cursor, plus the new cursor position.
type HistoryDelta struct {
	AddedIDs   []string
	DeletedIDs []string
	NewCursor  string
}

type WatchResult struct {
	ExpiresAt time.Time
}

// MailProvider is the upstream mailbox for one user. Calls may block on the
// provider's rate limiter.
type MailProvider interface {
	ListMessageIDs(ctx context.Context, pageToken string, query string, max int) (*MessagePage, error)
	GetMessage(ctx context.Context, id string) (*MailMessage, error)
	GetMessages(ctx context.Context, ids []string) ([]*MailMessage, error)
	GetAttachment(ctx context.Context, messageID string, attachmentID string) ([]byte, error)
	History(ctx context.Context, cursor string) (*HistoryDelta, error)
	// Cursor returns the provider's current change-history position.
	Cursor(ctx context.Context) (string, error)
	Watch(ctx context.Context, topic string) (*WatchResult, error)
	StopWatch(ctx context.Context) error
}

// MailProviderFactory builds a provider bound to one user's credentials.
type MailProviderFactory interface {
	ForUser(ctx context.Context, userID string) (MailProvider, error)
}
