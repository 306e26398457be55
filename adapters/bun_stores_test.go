package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/go-playground/assert/v2"
	"github.com/uptrace/bun"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

func openTestDB(t *testing.T) (*bun.DB, f.Stores) {
	t.Helper()
	db, err := OpenDatabase("sqlite://:memory:")
	assert.Equal(t, err, nil)
	t.Cleanup(func() { _ = db.Close() })
	return db, NewBunStores(db)
}

func openTestStores(t *testing.T) f.Stores {
	t.Helper()
	_, stores := openTestDB(t)
	return stores
}

func TestEmailStore_UpsertByProviderID(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	first, err := stores.Emails.Upsert(ctx, &f.EmailMessage{
		UserID:     "u-1",
		ProviderID: "g-1",
		Subject:    faker.Sentence(),
		FromEmail:  faker.Email(),
		Snippet:    faker.Paragraph(),
		Labels:     []string{"INBOX"},
	})
	assert.Equal(t, err, nil)

	second, err := stores.Emails.Upsert(ctx, &f.EmailMessage{
		UserID:     "u-1",
		ProviderID: "g-1",
		Subject:    "updated",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, first, second)

	count, err := stores.Emails.CountByUser(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, count, 1)

	email, err := stores.Emails.Get(ctx, first)
	assert.Equal(t, err, nil)
	assert.Equal(t, email.Subject, "updated")
}

func TestEmailStore_SameProviderIDDifferentUsers(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	a, err := stores.Emails.Upsert(ctx, &f.EmailMessage{UserID: "u-1", ProviderID: "g-1"})
	assert.Equal(t, err, nil)
	b, err := stores.Emails.Upsert(ctx, &f.EmailMessage{UserID: "u-2", ProviderID: "g-1"})
	assert.Equal(t, err, nil)
	assert.NotEqual(t, a, b)
}

func TestEmailStore_DeleteByProviderID(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	id, _ := stores.Emails.Upsert(ctx, &f.EmailMessage{UserID: "u-1", ProviderID: "g-1"})
	assert.Equal(t, stores.Emails.DeleteByProviderID(ctx, "u-1", "g-1"), nil)

	_, err := stores.Emails.Get(ctx, id)
	assert.Equal(t, errors.IsNotFound(err), true)
}

func TestClassificationStore_UpsertOverwrites(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	assert.Equal(t, stores.Classifications.Upsert(ctx, &f.EmailClassification{
		EmailID:         "em-1",
		Category:        "work",
		Priority:        "high",
		Sentiment:       "neutral",
		Tags:            []string{"project"},
		AssignedAgents:  []string{"task-extractor"},
		ConfidenceScore: 0.9,
		ClassifiedAt:    &now,
	}), nil)
	assert.Equal(t, stores.Classifications.Upsert(ctx, &f.EmailClassification{
		EmailID:         "em-1",
		Category:        "personal",
		Priority:        "low",
		Sentiment:       "positive",
		ConfidenceScore: 0.6,
		ClassifiedAt:    &now,
	}), nil)

	record, err := stores.Classifications.Get(ctx, "em-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, record.Category, "personal")
	assert.Equal(t, record.ConfidenceScore, 0.6)
}

func TestClassificationStore_Feedback(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	assert.Equal(t, stores.Classifications.Upsert(ctx, &f.EmailClassification{
		EmailID: "em-1", Category: "work", Priority: "normal", Sentiment: "neutral",
	}), nil)
	assert.Equal(t, stores.Classifications.SetFeedback(ctx, "em-1", "finance", "was an invoice"), nil)

	record, _ := stores.Classifications.Get(ctx, "em-1")
	assert.Equal(t, record.Category, "finance")
	assert.Equal(t, record.UserFeedback, "was an invoice")
}

func TestTaskStore_DeleteBySourceSupersedes(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	assert.Equal(t, stores.Tasks.Insert(ctx,
		&f.TaskRecord{UserID: "u-1", EmailID: "em-1", SourceAgent: "task-extractor", Title: "old one"},
		&f.TaskRecord{UserID: "u-1", EmailID: "em-1", SourceAgent: "task-extractor", Title: "old two"},
		&f.TaskRecord{UserID: "u-1", EmailID: "em-1", SourceAgent: "sow-generator", Title: "keep"},
	), nil)
	assert.Equal(t, stores.Tasks.DeleteBySource(ctx, "em-1", "task-extractor"), nil)

	tasks, err := stores.Tasks.ListByEmail(ctx, "em-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tasks), 1)
	assert.Equal(t, tasks[0].Title, "keep")
}

func TestSyncStateStore_DefaultsWhenMissing(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	state, err := stores.SyncState.Get(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, state.UserID, "u-1")
	assert.Equal(t, state.Status, f.SyncStatusActive)
	assert.Equal(t, state.LastCursor, "")
}

func TestSyncStateStore_SaveAndSetError(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	assert.Equal(t, stores.SyncState.Save(ctx, &f.SyncState{
		UserID:      "u-1",
		LastCursor:  "c-10",
		LastSyncAt:  &now,
		TotalSynced: 12,
		Status:      f.SyncStatusActive,
	}), nil)
	assert.Equal(t, stores.SyncState.SetError(ctx, "u-1", "history fetch failed"), nil)

	state, _ := stores.SyncState.Get(ctx, "u-1")
	assert.Equal(t, state.Status, f.SyncStatusError)
	assert.Equal(t, state.ErrorMessage, "history fetch failed")
	assert.Equal(t, state.LastCursor, "c-10")
}

func TestWatchStore_RenewalFailureIncrements(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()
	expires := now.Add(10 * time.Hour)

	assert.Equal(t, stores.Watches.Upsert(ctx, &f.WatchSubscription{
		UserID:    "u-1",
		Topic:     "projects/p/topics/mail",
		StartedAt: &now,
		ExpiresAt: &expires,
		IsActive:  true,
	}), nil)

	assert.Equal(t, stores.Watches.RecordRenewalFailure(ctx, "u-1", "quota"), nil)
	assert.Equal(t, stores.Watches.RecordRenewalFailure(ctx, "u-1", "quota again"), nil)

	sub, err := stores.Watches.Get(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, sub.RenewalAttemptCount, 2)
	assert.Equal(t, sub.LastError, "quota again")
}

func TestWatchStore_ListExpiringWindow(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()

	seed := func(userID string, in time.Duration, active bool) {
		expires := now.Add(in)
		assert.Equal(t, stores.Watches.Upsert(ctx, &f.WatchSubscription{
			UserID:    userID,
			Topic:     "t",
			StartedAt: &now,
			ExpiresAt: &expires,
			IsActive:  active,
		}), nil)
	}
	seed("u-due", 20*time.Hour, true)
	seed("u-later", 30*time.Hour, true)
	seed("u-inactive", 2*time.Hour, false)

	expiring, err := stores.Watches.ListExpiring(ctx, now.Add(24*time.Hour))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(expiring), 1)
	assert.Equal(t, expiring[0].UserID, "u-due")
}

func TestSyncPrefsStore_ListAutoSync(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	assert.Equal(t, stores.SyncPrefs.Upsert(ctx, &f.SyncPreferences{
		UserID: "u-on", Strategy: f.StrategyHybrid, AutoSyncEnabled: true, PollingEnabled: true, PollingIntervalMinutes: 15,
	}), nil)
	assert.Equal(t, stores.SyncPrefs.Upsert(ctx, &f.SyncPreferences{
		UserID: "u-off", Strategy: f.StrategyPolling, AutoSyncEnabled: false,
	}), nil)

	enabled, err := stores.SyncPrefs.ListAutoSync(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(enabled), 1)
	assert.Equal(t, enabled[0].UserID, "u-on")
}

func TestDeadLetterStore_InsertAndList(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	assert.Equal(t, stores.DeadLetters.Insert(ctx, &f.DeadLetterRecord{
		OriginalQueue: "email-classification",
		JobName:       "classify-email",
		Payload:       `{"email_id":"em-1"}`,
		AttemptsMade:  3,
		FailedReason:  "llm unavailable",
	}), nil)

	records, err := stores.DeadLetters.List(ctx, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(records), 1)
	assert.Equal(t, records[0].AttemptsMade, 3)
	assert.NotEqual(t, records[0].ID, "")
}

func TestUserStore_SaveTokens(t *testing.T) {
	db, stores := openTestDB(t)
	ctx := context.Background()

	seed := &f.UserEntity{ID: "u-1", Email: faker.Email(), AccessToken: "old-at", RefreshToken: "old-rt"}
	_, err := db.NewInsert().Model(seed).Exec(ctx)
	assert.Equal(t, err, nil)

	assert.Equal(t, stores.Users.SaveTokens(ctx, "u-1", "new-at", "old-rt"), nil)

	user, err := stores.Users.Get(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, user.AccessToken, "new-at")
	assert.Equal(t, user.RefreshToken, "old-rt")
	assert.Equal(t, user.Email, seed.Email)
}

func TestUserStore_FindByEmail(t *testing.T) {
	db, stores := openTestDB(t)
	ctx := context.Background()

	seed := &f.UserEntity{ID: "u-1", Email: "ada@example.com"}
	_, err := db.NewInsert().Model(seed).Exec(ctx)
	assert.Equal(t, err, nil)

	user, err := stores.Users.FindByEmail(ctx, "ada@example.com")
	assert.Equal(t, err, nil)
	assert.Equal(t, user.ID, "u-1")

	_, err = stores.Users.FindByEmail(ctx, "nobody@example.com")
	assert.Equal(t, errors.IsNotFound(err), true)
}

func TestDocumentStore_SetOCRText(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	id, err := stores.Documents.Insert(ctx, &f.Document{
		UserID:    "u-1",
		EmailID:   "em-1",
		Filename:  "contract.pdf",
		MimeType:  "application/pdf",
		SourceURL: "gs://bucket/attachments/u-1/em-1/contract.pdf",
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, stores.Documents.SetOCRText(ctx, id, "scanned body"), nil)

	doc, err := stores.Documents.Get(ctx, id)
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.OCRText, "scanned body")
	assert.NotEqual(t, doc.OCRCompletedAt, nil)

	docs, err := stores.Documents.ListByEmail(ctx, "em-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(docs), 1)
}

func TestSyncPrefsStore_SetWebhookEnabled(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	assert.Equal(t, stores.SyncPrefs.Upsert(ctx, &f.SyncPreferences{
		UserID: "u-1", Strategy: f.StrategyHybrid, AutoSyncEnabled: true, WebhookEnabled: true, PollingEnabled: true,
	}), nil)
	assert.Equal(t, stores.SyncPrefs.SetWebhookEnabled(ctx, "u-1", false), nil)

	prefs, err := stores.SyncPrefs.Get(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, prefs.WebhookEnabled, false)
	assert.Equal(t, prefs.PollingEnabled, true)
}

func TestWatchStore_Deactivate(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now()
	expires := now.Add(48 * time.Hour)

	assert.Equal(t, stores.Watches.Upsert(ctx, &f.WatchSubscription{
		UserID: "u-1", Topic: "t", StartedAt: &now, ExpiresAt: &expires, IsActive: true,
	}), nil)
	assert.Equal(t, stores.Watches.Deactivate(ctx, "u-1"), nil)

	sub, err := stores.Watches.Get(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, sub.IsActive, false)
}
