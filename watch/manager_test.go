package watch

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/inboxpilot/inboxpilot/adapters"
	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

type fakeProvider struct {
	watchErr   error
	stopErr    error
	expiresAt  time.Time
	watchCalls int
	stopCalls  int
}

func (p *fakeProvider) ListMessageIDs(ctx context.Context, pageToken string, query string, max int) (*f.MessagePage, error) {
	return &f.MessagePage{}, nil
}
func (p *fakeProvider) GetMessage(ctx context.Context, id string) (*f.MailMessage, error) {
	return nil, errors.NotFound("no message")
}
func (p *fakeProvider) GetMessages(ctx context.Context, ids []string) ([]*f.MailMessage, error) {
	return nil, nil
}
func (p *fakeProvider) GetAttachment(ctx context.Context, messageID string, attachmentID string) ([]byte, error) {
	return nil, nil
}
func (p *fakeProvider) History(ctx context.Context, cursor string) (*f.HistoryDelta, error) {
	return &f.HistoryDelta{}, nil
}
func (p *fakeProvider) Cursor(ctx context.Context) (string, error) { return "c-1", nil }

func (p *fakeProvider) Watch(ctx context.Context, topic string) (*f.WatchResult, error) {
	p.watchCalls++
	if p.watchErr != nil {
		return nil, p.watchErr
	}
	return &f.WatchResult{ExpiresAt: p.expiresAt}, nil
}

func (p *fakeProvider) StopWatch(ctx context.Context) error {
	p.stopCalls++
	return p.stopErr
}

type fakeFactory struct{ provider *fakeProvider }

func (ff *fakeFactory) ForUser(ctx context.Context, userID string) (f.MailProvider, error) {
	return ff.provider, nil
}

func newTestManager(provider *fakeProvider) (*Manager, f.Stores) {
	_, stores := adapters.NewMemoryStores()
	return NewManager(stores, &fakeFactory{provider}, "projects/p/topics/mail"), stores
}

func TestStart_RecordsActiveSubscription(t *testing.T) {
	expires := time.Now().Add(7 * 24 * time.Hour)
	provider := &fakeProvider{expiresAt: expires}
	m, stores := newTestManager(provider)

	assert.Equal(t, m.Start(context.Background(), "u-1"), nil)

	sub, err := stores.Watches.Get(context.Background(), "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, sub.IsActive, true)
	assert.Equal(t, sub.Topic, "projects/p/topics/mail")
	assert.Equal(t, sub.ExpiresAt.Unix(), expires.Unix())
	assert.Equal(t, sub.RenewalAttemptCount, 0)
	assert.Equal(t, sub.LastError, "")
}

func TestStop_ToleratesAlreadyGoneUpstream(t *testing.T) {
	provider := &fakeProvider{expiresAt: time.Now().Add(time.Hour), stopErr: errors.NotFound("watch already expired")}
	m, stores := newTestManager(provider)
	ctx := context.Background()

	assert.Equal(t, stores.SyncPrefs.Upsert(ctx, &f.SyncPreferences{
		UserID: "u-1", Strategy: f.StrategyWebhook, AutoSyncEnabled: true, WebhookEnabled: true,
	}), nil)
	assert.Equal(t, m.Start(ctx, "u-1"), nil)
	assert.Equal(t, m.Stop(ctx, "u-1"), nil)

	sub, _ := stores.Watches.Get(ctx, "u-1")
	assert.Equal(t, sub.IsActive, false)
	prefs, _ := stores.SyncPrefs.Get(ctx, "u-1")
	assert.Equal(t, prefs.WebhookEnabled, false)
}

func TestRenew_FailureRecordedOnSubscription(t *testing.T) {
	provider := &fakeProvider{expiresAt: time.Now().Add(time.Hour)}
	m, stores := newTestManager(provider)
	ctx := context.Background()

	assert.Equal(t, m.Start(ctx, "u-1"), nil)

	provider.watchErr = errors.Technical("quota exceeded")
	err := m.Renew(ctx, "u-1")
	assert.NotEqual(t, err, nil)

	sub, _ := stores.Watches.Get(ctx, "u-1")
	assert.Equal(t, sub.RenewalAttemptCount, 1)
	assert.Equal(t, sub.LastError, "quota exceeded")
}

func TestRenew_SuccessClearsError(t *testing.T) {
	provider := &fakeProvider{expiresAt: time.Now().Add(time.Hour)}
	m, stores := newTestManager(provider)
	ctx := context.Background()

	assert.Equal(t, m.Start(ctx, "u-1"), nil)
	provider.watchErr = errors.Technical("quota exceeded")
	assert.NotEqual(t, m.Renew(ctx, "u-1"), nil)

	provider.watchErr = nil
	provider.expiresAt = time.Now().Add(7 * 24 * time.Hour)
	assert.Equal(t, m.Renew(ctx, "u-1"), nil)

	sub, _ := stores.Watches.Get(ctx, "u-1")
	assert.Equal(t, sub.LastError, "")
	assert.Equal(t, sub.RenewalAttemptCount, 0)
	// One stop for the failed renewal, one for the successful one.
	assert.Equal(t, provider.stopCalls, 2)
}

func TestStatus_ReportsRenewalWindow(t *testing.T) {
	provider := &fakeProvider{expiresAt: time.Now().Add(20 * time.Hour)}
	m, _ := newTestManager(provider)
	ctx := context.Background()

	assert.Equal(t, m.Start(ctx, "u-1"), nil)
	status, err := m.Status(ctx, "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, status.IsActive, true)
	assert.Equal(t, status.NeedsRenewal, true)
	assert.Equal(t, status.HoursUntilExpiration < 21 && status.HoursUntilExpiration > 19, true)
}

func TestStatus_NoSubscription(t *testing.T) {
	m, _ := newTestManager(&fakeProvider{})
	status, err := m.Status(context.Background(), "u-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, status.IsActive, false)
	assert.Equal(t, status.NeedsRenewal, false)
}

func TestEnableAutoSync_WatchFailureToleratedForHybrid(t *testing.T) {
	provider := &fakeProvider{watchErr: errors.Technical("pubsub topic missing")}
	m, stores := newTestManager(provider)
	ctx := context.Background()

	assert.Equal(t, m.EnableAutoSync(ctx, "u-1", f.StrategyHybrid, 10), nil)

	prefs, _ := stores.SyncPrefs.Get(ctx, "u-1")
	assert.Equal(t, prefs.AutoSyncEnabled, true)
	assert.Equal(t, prefs.PollingEnabled, true)
	assert.Equal(t, prefs.PollingIntervalMinutes, 10)
}

func TestEnableAutoSync_WatchFailureFatalForWebhookOnly(t *testing.T) {
	provider := &fakeProvider{watchErr: errors.Technical("pubsub topic missing")}
	m, _ := newTestManager(provider)

	err := m.EnableAutoSync(context.Background(), "u-1", f.StrategyWebhook, 0)
	assert.NotEqual(t, err, nil)
}

func TestDisableAutoSync_StopsActiveWatch(t *testing.T) {
	provider := &fakeProvider{expiresAt: time.Now().Add(time.Hour)}
	m, stores := newTestManager(provider)
	ctx := context.Background()

	assert.Equal(t, m.EnableAutoSync(ctx, "u-1", f.StrategyHybrid, 15), nil)
	assert.Equal(t, m.DisableAutoSync(ctx, "u-1"), nil)

	prefs, _ := stores.SyncPrefs.Get(ctx, "u-1")
	assert.Equal(t, prefs.AutoSyncEnabled, false)
	sub, _ := stores.Watches.Get(ctx, "u-1")
	assert.Equal(t, sub.IsActive, false)
	assert.Equal(t, provider.stopCalls, 1)
}
