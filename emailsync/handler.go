// Package emailsync reconciles the local message store with the upstream
// mailbox and fans out classification and OCR work.
package emailsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

const (
	// fullSyncCap bounds how many messages an initial sync ingests.
	fullSyncCap = 500
	pageSize    = 100
	batchSize   = 10
)

type Handler struct {
	stores    f.Stores
	providers f.MailProviderFactory
	producer  jobs.Producer
	blobs     f.BlobStore
	extractor f.TextExtractor
	now       func() time.Time
}

func NewHandler(stores f.Stores, providers f.MailProviderFactory, producer jobs.Producer, blobs f.BlobStore, extractor f.TextExtractor) *Handler {
	return &Handler{
		stores:    stores,
		providers: providers,
		producer:  producer,
		blobs:     blobs,
		extractor: extractor,
		now:       time.Now,
	}
}

// Handle runs one sync attempt. Any failure marks the sync state as errored
// and is returned so the pool's retry policy applies. Progress already
// persisted survives; reruns are idempotent through upsert by provider id.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job jobs.EmailSyncJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.BadRequest("invalid sync payload: %v", err)
	}
	log.Info("starting email sync for user %s (full=%v)", job.UserID, job.FullSync)

	if err := h.run(ctx, job); err != nil {
		if setErr := h.stores.SyncState.SetError(ctx, job.UserID, err.Error()); setErr != nil {
			log.Error("failed to record sync error for user %s: %v", job.UserID, setErr)
		}
		return err
	}
	return nil
}

func (h *Handler) run(ctx context.Context, job jobs.EmailSyncJob) error {
	provider, err := h.providers.ForUser(ctx, job.UserID)
	if err != nil {
		return err
	}
	state, err := h.stores.SyncState.Get(ctx, job.UserID)
	if err != nil {
		return err
	}

	var synced int
	var cursor string
	if job.FullSync || state.LastCursor == "" {
		synced, cursor, err = h.fullSync(ctx, provider, job.UserID)
	} else {
		synced, cursor, err = h.incrementalSync(ctx, provider, job.UserID, state.LastCursor)
	}
	if err != nil {
		return err
	}

	now := h.now()
	state.LastCursor = cursor
	state.LastSyncAt = &now
	state.TotalSynced += synced
	state.Status = f.SyncStatusActive
	state.ErrorMessage = ""
	if err := h.stores.SyncState.Save(ctx, state); err != nil {
		return err
	}
	log.Info("email sync done for user %s: %d messages", job.UserID, synced)
	return nil
}

// fullSync pages through the inbox listing up to the cap and ingests every
// message, then records the provider's current cursor so later runs can go
// incremental.
func (h *Handler) fullSync(ctx context.Context, provider f.MailProvider, userID string) (int, string, error) {
	// Read the cursor first so changes landing during the walk are replayed
	// by the next incremental run instead of being skipped.
	cursor, err := provider.Cursor(ctx)
	if err != nil {
		return 0, "", err
	}

	var ids []string
	pageToken := ""
	for len(ids) < fullSyncCap {
		remaining := min(pageSize, fullSyncCap-len(ids))
		page, err := provider.ListMessageIDs(ctx, pageToken, "", remaining)
		if err != nil {
			return 0, "", err
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	synced, err := h.ingest(ctx, provider, userID, ids)
	return synced, cursor, err
}

func (h *Handler) incrementalSync(ctx context.Context, provider f.MailProvider, userID string, cursor string) (int, string, error) {
	delta, err := provider.History(ctx, cursor)
	if err != nil {
		return 0, "", err
	}
	synced, err := h.ingest(ctx, provider, userID, delta.AddedIDs)
	if err != nil {
		return 0, "", err
	}
	for _, providerID := range delta.DeletedIDs {
		if err := h.stores.Emails.DeleteByProviderID(ctx, userID, providerID); err != nil {
			return 0, "", err
		}
	}
	newCursor := delta.NewCursor
	if newCursor == "" {
		newCursor = cursor
	}
	return synced, newCursor, nil
}

// ingest fetches message detail in bounded batches, persists each, and fans
// out follow-on work. Enqueue failures are logged, never fatal: the message
// row already landed.
func (h *Handler) ingest(ctx context.Context, provider f.MailProvider, userID string, ids []string) (int, error) {
	synced := 0
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		messages, err := provider.GetMessages(ctx, ids[start:end])
		if err != nil {
			return synced, err
		}
		for _, m := range messages {
			emailID, err := h.persist(ctx, userID, m)
			if err != nil {
				return synced, err
			}
			synced++
			jobs.BestEffort("classification", h.producer.EnqueueClassification(ctx, emailID, userID))
			h.processAttachments(ctx, provider, userID, emailID, m)
		}
	}
	return synced, nil
}

func (h *Handler) persist(ctx context.Context, userID string, m *f.MailMessage) (string, error) {
	row := &f.EmailMessage{
		UserID:         userID,
		ProviderID:     m.ID,
		ThreadID:       m.ThreadID,
		Subject:        m.Subject,
		FromEmail:      m.From,
		FromName:       m.FromName,
		ToEmail:        m.To,
		Snippet:        m.Snippet,
		BodyPlain:      m.BodyPlain,
		BodyHTML:       m.BodyHTML,
		Labels:         m.Labels,
		HasAttachments: len(m.Attachments) > 0,
		IsRead:         !m.Unread,
		IsStarred:      m.Starred,
	}
	if !m.ReceivedAt.IsZero() {
		t := m.ReceivedAt
		row.ReceivedAt = &t
	}
	return h.stores.Emails.Upsert(ctx, row)
}

// processAttachments stores each attachment and routes it to OCR. Cheap image
// types are extracted inline; PDFs go through the async OCR queue. All of it
// is best effort relative to the message ingestion that already succeeded.
func (h *Handler) processAttachments(ctx context.Context, provider f.MailProvider, userID string, emailID string, m *f.MailMessage) {
	for _, att := range m.Attachments {
		if err := h.processAttachment(ctx, provider, userID, emailID, m.ID, att); err != nil {
			log.Warn("attachment %s of email %s skipped: %v", att.Filename, emailID, err)
		}
	}
}

func (h *Handler) processAttachment(ctx context.Context, provider f.MailProvider, userID string, emailID string, providerMessageID string, att f.MailAttachment) error {
	data, err := provider.GetAttachment(ctx, providerMessageID, att.AttachmentID)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("attachments/%s/%s/%s", userID, emailID, att.Filename)
	url, err := h.blobs.Upload(ctx, path, data, att.MimeType)
	if err != nil {
		return err
	}
	doc := &f.Document{
		UserID:    userID,
		EmailID:   emailID,
		Filename:  att.Filename,
		MimeType:  att.MimeType,
		SourceURL: url,
	}

	if isInlineImage(att.MimeType) {
		text, err := h.extractor.ExtractImageText(ctx, data)
		if err != nil {
			return err
		}
		doc.OCRText = text
		now := h.now()
		doc.OCRCompletedAt = &now
		_, err = h.stores.Documents.Insert(ctx, doc)
		return err
	}

	docID, err := h.stores.Documents.Insert(ctx, doc)
	if err != nil {
		return err
	}
	if att.MimeType == "application/pdf" {
		jobs.BestEffort("ocr", h.producer.EnqueueOCR(ctx, jobs.DocumentOCRJob{
			DocumentID: docID,
			UserID:     userID,
			SourceURL:  url,
			MimeType:   att.MimeType,
		}))
	}
	return nil
}

func isInlineImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
