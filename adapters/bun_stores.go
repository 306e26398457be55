package adapters

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	f "github.com/inboxpilot/inboxpilot/core"
	appErrors "github.com/inboxpilot/inboxpilot/errors"
)

// NewBunStores wires every store interface to one bun database.
func NewBunStores(db *bun.DB) f.Stores {
	return f.Stores{
		Users:           &bunUserStore{db: db},
		Emails:          &bunEmailStore{db: db},
		Classifications: &bunClassificationStore{db: db},
		Tasks:           &bunTaskStore{db: db},
		Documents:       &bunDocumentStore{db: db},
		SOWs:            &bunSOWStore{db: db},
		Projects:        &bunProjectStore{db: db},
		AgentLogs:       &bunAgentLogStore{db: db},
		SyncState:       &bunSyncStateStore{db: db},
		SyncPrefs:       &bunSyncPrefsStore{db: db},
		Watches:         &bunWatchStore{db: db},
		DeadLetters:     &bunDeadLetterStore{db: db},
	}
}

func notFoundOr(err error, msg string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NotFound(msg, args...)
	}
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// USERS
// ------------------------------------------------------------------------------------------------------------------

type bunUserStore struct{ db *bun.DB }

func (s *bunUserStore) Get(ctx context.Context, userID string) (*f.UserEntity, error) {
	user := new(f.UserEntity)
	err := s.db.NewSelect().Model(user).Where("id = ?", userID).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "user not found: %s", userID)
	}
	return user, nil
}

func (s *bunUserStore) FindByEmail(ctx context.Context, email string) (*f.UserEntity, error) {
	user := new(f.UserEntity)
	err := s.db.NewSelect().Model(user).Where("email = ?", email).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "no user for address %s", email)
	}
	return user, nil
}

func (s *bunUserStore) SaveTokens(ctx context.Context, userID string, accessToken string, refreshToken string) error {
	now := time.Now()
	q := s.db.NewUpdate().Model((*f.UserEntity)(nil)).
		Set("updated_at = ?", now).
		Where("id = ?", userID)
	if accessToken != "" {
		q = q.Set("access_token = ?", accessToken)
	}
	if refreshToken != "" {
		q = q.Set("refresh_token = ?", refreshToken)
	}
	_, err := q.Exec(ctx)
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// EMAILS
// ------------------------------------------------------------------------------------------------------------------

type bunEmailStore struct{ db *bun.DB }

func (s *bunEmailStore) Upsert(ctx context.Context, m *f.EmailMessage) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (user_id, provider_id) DO UPDATE").
		Set("subject = EXCLUDED.subject").
		Set("snippet = EXCLUDED.snippet").
		Set("body_plain = EXCLUDED.body_plain").
		Set("body_html = EXCLUDED.body_html").
		Set("labels = EXCLUDED.labels").
		Set("is_read = EXCLUDED.is_read").
		Set("is_starred = EXCLUDED.is_starred").
		Set("has_attachments = EXCLUDED.has_attachments").
		Exec(ctx)
	if err != nil {
		return "", err
	}
	existing := new(f.EmailMessage)
	err = s.db.NewSelect().Model(existing).
		Where("user_id = ? AND provider_id = ?", m.UserID, m.ProviderID).
		Scan(ctx)
	if err != nil {
		return "", err
	}
	m.ID = existing.ID
	return existing.ID, nil
}

func (s *bunEmailStore) Get(ctx context.Context, id string) (*f.EmailMessage, error) {
	m := new(f.EmailMessage)
	err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "email not found: %s", id)
	}
	return m, nil
}

func (s *bunEmailStore) DeleteByProviderID(ctx context.Context, userID string, providerID string) error {
	_, err := s.db.NewDelete().Model((*f.EmailMessage)(nil)).
		Where("user_id = ? AND provider_id = ?", userID, providerID).
		Exec(ctx)
	return err
}

func (s *bunEmailStore) SetSummary(ctx context.Context, emailID string, summary string) error {
	_, err := s.db.NewUpdate().Model((*f.EmailMessage)(nil)).
		Set("summary = ?", summary).
		Where("id = ?", emailID).
		Exec(ctx)
	return err
}

func (s *bunEmailStore) CountByUser(ctx context.Context, userID string) (int, error) {
	return s.db.NewSelect().Model((*f.EmailMessage)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
}

// ------------------------------------------------------------------------------------------------------------------
// CLASSIFICATIONS
// ------------------------------------------------------------------------------------------------------------------

type bunClassificationStore struct{ db *bun.DB }

func (s *bunClassificationStore) Upsert(ctx context.Context, c *f.EmailClassification) error {
	_, err := s.db.NewInsert().Model(c).
		On("CONFLICT (email_id) DO UPDATE").
		Set("category = EXCLUDED.category").
		Set("priority = EXCLUDED.priority").
		Set("sentiment = EXCLUDED.sentiment").
		Set("tags = EXCLUDED.tags").
		Set("assigned_agents = EXCLUDED.assigned_agents").
		Set("confidence_score = EXCLUDED.confidence_score").
		Set("classified_at = EXCLUDED.classified_at").
		Exec(ctx)
	return err
}

func (s *bunClassificationStore) Get(ctx context.Context, emailID string) (*f.EmailClassification, error) {
	c := new(f.EmailClassification)
	err := s.db.NewSelect().Model(c).Where("email_id = ?", emailID).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "classification not found for email %s", emailID)
	}
	return c, nil
}

func (s *bunClassificationStore) SetFeedback(ctx context.Context, emailID string, category string, feedback string) error {
	_, err := s.db.NewUpdate().Model((*f.EmailClassification)(nil)).
		Set("category = ?", category).
		Set("user_feedback = ?", feedback).
		Set("confidence_score = ?", 1.0).
		Where("email_id = ?", emailID).
		Exec(ctx)
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// TASKS
// ------------------------------------------------------------------------------------------------------------------

type bunTaskStore struct{ db *bun.DB }

func (s *bunTaskStore) Insert(ctx context.Context, tasks ...*f.TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt == nil {
			t.CreatedAt = &now
		}
	}
	_, err := s.db.NewInsert().Model(&tasks).Exec(ctx)
	return err
}

func (s *bunTaskStore) DeleteBySource(ctx context.Context, emailID string, agent string) error {
	_, err := s.db.NewDelete().Model((*f.TaskRecord)(nil)).
		Where("email_id = ? AND source_agent = ?", emailID, agent).
		Exec(ctx)
	return err
}

func (s *bunTaskStore) ListByEmail(ctx context.Context, emailID string) ([]f.TaskRecord, error) {
	var tasks []f.TaskRecord
	err := s.db.NewSelect().Model(&tasks).Where("email_id = ?", emailID).Scan(ctx)
	return tasks, err
}

// ------------------------------------------------------------------------------------------------------------------
// DOCUMENTS
// ------------------------------------------------------------------------------------------------------------------

type bunDocumentStore struct{ db *bun.DB }

func (s *bunDocumentStore) Insert(ctx context.Context, d *f.Document) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.NewInsert().Model(d).Exec(ctx)
	return d.ID, err
}

func (s *bunDocumentStore) Get(ctx context.Context, id string) (*f.Document, error) {
	d := new(f.Document)
	err := s.db.NewSelect().Model(d).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "document not found: %s", id)
	}
	return d, nil
}

func (s *bunDocumentStore) ListByEmail(ctx context.Context, emailID string) ([]f.Document, error) {
	var docs []f.Document
	err := s.db.NewSelect().Model(&docs).Where("email_id = ?", emailID).Scan(ctx)
	return docs, err
}

func (s *bunDocumentStore) SetOCRText(ctx context.Context, id string, text string) error {
	now := time.Now()
	_, err := s.db.NewUpdate().Model((*f.Document)(nil)).
		Set("ocr_text = ?", text).
		Set("ocr_completed_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// SOW / PROJECTS / AGENT LOGS
// ------------------------------------------------------------------------------------------------------------------

type bunSOWStore struct{ db *bun.DB }

func (s *bunSOWStore) Insert(ctx context.Context, rec *f.SOWRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == nil {
		now := time.Now()
		rec.CreatedAt = &now
	}
	_, err := s.db.NewInsert().Model(rec).Exec(ctx)
	return rec.ID, err
}

func (s *bunSOWStore) GetByEmail(ctx context.Context, emailID string) (*f.SOWRecord, error) {
	rec := new(f.SOWRecord)
	err := s.db.NewSelect().Model(rec).
		Where("email_id = ?", emailID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "no sow for email %s", emailID)
	}
	return rec, nil
}

type bunProjectStore struct{ db *bun.DB }

func (s *bunProjectStore) Insert(ctx context.Context, p *f.Project) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt == nil {
		now := time.Now()
		p.CreatedAt = &now
	}
	_, err := s.db.NewInsert().Model(p).Exec(ctx)
	return p.ID, err
}

type bunAgentLogStore struct{ db *bun.DB }

func (s *bunAgentLogStore) Insert(ctx context.Context, l *f.AgentLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt == nil {
		now := time.Now()
		l.CreatedAt = &now
	}
	_, err := s.db.NewInsert().Model(l).Exec(ctx)
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// SYNC STATE / PREFERENCES
// ------------------------------------------------------------------------------------------------------------------

type bunSyncStateStore struct{ db *bun.DB }

func (s *bunSyncStateStore) Get(ctx context.Context, userID string) (*f.SyncState, error) {
	state := new(f.SyncState)
	err := s.db.NewSelect().Model(state).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &f.SyncState{UserID: userID, Status: f.SyncStatusActive}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *bunSyncStateStore) Save(ctx context.Context, state *f.SyncState) error {
	_, err := s.db.NewInsert().Model(state).
		On("CONFLICT (user_id) DO UPDATE").
		Set("last_cursor = EXCLUDED.last_cursor").
		Set("last_sync_at = EXCLUDED.last_sync_at").
		Set("total_synced = EXCLUDED.total_synced").
		Set("status = EXCLUDED.status").
		Set("error_message = EXCLUDED.error_message").
		Exec(ctx)
	return err
}

func (s *bunSyncStateStore) SetError(ctx context.Context, userID string, message string) error {
	state, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	state.Status = f.SyncStatusError
	state.ErrorMessage = message
	return s.Save(ctx, state)
}

type bunSyncPrefsStore struct{ db *bun.DB }

func (s *bunSyncPrefsStore) Get(ctx context.Context, userID string) (*f.SyncPreferences, error) {
	p := new(f.SyncPreferences)
	err := s.db.NewSelect().Model(p).Where("user_id = ?", userID).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "no sync preferences for user %s", userID)
	}
	return p, nil
}

func (s *bunSyncPrefsStore) Upsert(ctx context.Context, p *f.SyncPreferences) error {
	_, err := s.db.NewInsert().Model(p).
		On("CONFLICT (user_id) DO UPDATE").
		Set("sync_strategy = EXCLUDED.sync_strategy").
		Set("auto_sync_enabled = EXCLUDED.auto_sync_enabled").
		Set("polling_enabled = EXCLUDED.polling_enabled").
		Set("webhook_enabled = EXCLUDED.webhook_enabled").
		Set("polling_interval_minutes = EXCLUDED.polling_interval_minutes").
		Exec(ctx)
	return err
}

func (s *bunSyncPrefsStore) ListAutoSync(ctx context.Context) ([]f.SyncPreferences, error) {
	var prefs []f.SyncPreferences
	err := s.db.NewSelect().Model(&prefs).
		Where("auto_sync_enabled = ?", true).
		Scan(ctx)
	return prefs, err
}

func (s *bunSyncPrefsStore) SetWebhookEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := s.db.NewUpdate().Model((*f.SyncPreferences)(nil)).
		Set("webhook_enabled = ?", enabled).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// WATCH SUBSCRIPTIONS
// ------------------------------------------------------------------------------------------------------------------

type bunWatchStore struct{ db *bun.DB }

func (s *bunWatchStore) Get(ctx context.Context, userID string) (*f.WatchSubscription, error) {
	w := new(f.WatchSubscription)
	err := s.db.NewSelect().Model(w).Where("user_id = ?", userID).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "no watch subscription for user %s", userID)
	}
	return w, nil
}

func (s *bunWatchStore) Upsert(ctx context.Context, w *f.WatchSubscription) error {
	_, err := s.db.NewInsert().Model(w).
		On("CONFLICT (user_id) DO UPDATE").
		Set("topic = EXCLUDED.topic").
		Set("started_at = EXCLUDED.started_at").
		Set("expires_at = EXCLUDED.expires_at").
		Set("is_active = EXCLUDED.is_active").
		Set("last_renewed_at = EXCLUDED.last_renewed_at").
		Set("renewal_attempt_count = EXCLUDED.renewal_attempt_count").
		Set("last_error = EXCLUDED.last_error").
		Exec(ctx)
	return err
}

func (s *bunWatchStore) ListExpiring(ctx context.Context, before time.Time) ([]f.WatchSubscription, error) {
	var watches []f.WatchSubscription
	err := s.db.NewSelect().Model(&watches).
		Where("is_active = ?", true).
		Where("expires_at < ?", before).
		Scan(ctx)
	return watches, err
}

func (s *bunWatchStore) RecordRenewalFailure(ctx context.Context, userID string, message string) error {
	_, err := s.db.NewUpdate().Model((*f.WatchSubscription)(nil)).
		Set("last_error = ?", message).
		Set("renewal_attempt_count = renewal_attempt_count + 1").
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *bunWatchStore) Deactivate(ctx context.Context, userID string) error {
	_, err := s.db.NewUpdate().Model((*f.WatchSubscription)(nil)).
		Set("is_active = ?", false).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// DEAD LETTERS
// ------------------------------------------------------------------------------------------------------------------

type bunDeadLetterStore struct{ db *bun.DB }

func (s *bunDeadLetterStore) Insert(ctx context.Context, r *f.DeadLetterRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == nil {
		now := time.Now()
		r.CreatedAt = &now
	}
	_, err := s.db.NewInsert().Model(r).Exec(ctx)
	return err
}

func (s *bunDeadLetterStore) List(ctx context.Context, limit int) ([]f.DeadLetterRecord, error) {
	var records []f.DeadLetterRecord
	err := s.db.NewSelect().Model(&records).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return records, err
}
