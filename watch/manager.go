// Package watch owns the push-notification subscription lifecycle with the
// mailbox provider: start, renew before expiry, stop.
package watch

import (
	"context"
	"time"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/log"
)

// RenewalWindow is how long before expiry a subscription becomes due.
const RenewalWindow = 24 * time.Hour

type Manager struct {
	stores    f.Stores
	providers f.MailProviderFactory
	topic     string
	now       func() time.Time
}

func NewManager(stores f.Stores, providers f.MailProviderFactory, topic string) *Manager {
	return &Manager{stores: stores, providers: providers, topic: topic, now: time.Now}
}

// Start registers a subscription with the provider and records it active.
func (m *Manager) Start(ctx context.Context, userID string) error {
	provider, err := m.providers.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	result, err := provider.Watch(ctx, m.topic)
	if err != nil {
		return err
	}
	now := m.now()
	expiresAt := result.ExpiresAt
	return m.stores.Watches.Upsert(ctx, &f.WatchSubscription{
		UserID:              userID,
		Topic:               m.topic,
		StartedAt:           &now,
		ExpiresAt:           &expiresAt,
		IsActive:            true,
		LastRenewedAt:       &now,
		RenewalAttemptCount: 0,
		LastError:           "",
	})
}

// Stop tears the subscription down and disables the webhook preference so
// the scheduler stops expecting push delivery for this user.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	provider, err := m.providers.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := provider.StopWatch(ctx); err != nil {
		// An expired subscription is already gone upstream.
		log.Warn("stop watch for user %s reported %v, deactivating anyway", userID, err)
	}
	if err := m.stores.Watches.Deactivate(ctx, userID); err != nil {
		return err
	}
	return m.stores.SyncPrefs.SetWebhookEnabled(ctx, userID, false)
}

// Renew replaces the current registration with a fresh one. A failed stop of
// the old registration is tolerated; a failed start is recorded on the
// subscription and returned.
func (m *Manager) Renew(ctx context.Context, userID string) error {
	provider, err := m.providers.ForUser(ctx, userID)
	if err != nil {
		return m.recordFailure(ctx, userID, err)
	}
	if err := provider.StopWatch(ctx); err != nil {
		log.Warn("renewal stop for user %s reported %v, starting anyway", userID, err)
	}
	if err := m.Start(ctx, userID); err != nil {
		return m.recordFailure(ctx, userID, err)
	}
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, userID string, cause error) error {
	if err := m.stores.Watches.RecordRenewalFailure(ctx, userID, cause.Error()); err != nil {
		log.Error("failed to record renewal failure for user %s: %v", userID, err)
	}
	return cause
}

// Status is the read model served to settings surfaces.
type Status struct {
	IsActive             bool       `json:"is_active"`
	Topic                string     `json:"topic,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	HoursUntilExpiration float64    `json:"hours_until_expiration"`
	NeedsRenewal         bool       `json:"needs_renewal"`
	RenewalAttemptCount  int        `json:"renewal_attempt_count"`
	LastError            string     `json:"last_error,omitempty"`
}

func (m *Manager) Status(ctx context.Context, userID string) (*Status, error) {
	sub, err := m.stores.Watches.Get(ctx, userID)
	if errors.IsNotFound(err) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}
	status := &Status{
		IsActive:            sub.IsActive,
		Topic:               sub.Topic,
		ExpiresAt:           sub.ExpiresAt,
		RenewalAttemptCount: sub.RenewalAttemptCount,
		LastError:           sub.LastError,
	}
	if sub.ExpiresAt != nil {
		until := sub.ExpiresAt.Sub(m.now())
		status.HoursUntilExpiration = until.Hours()
		status.NeedsRenewal = sub.IsActive && until < RenewalWindow
	}
	return status, nil
}

// EnableAutoSync turns background syncing on for a user. With a webhook or
// hybrid strategy the watch is started too; a watch failure is tolerated when
// polling can still serve.
func (m *Manager) EnableAutoSync(ctx context.Context, userID string, strategy string, pollingIntervalMinutes int) error {
	if pollingIntervalMinutes <= 0 {
		pollingIntervalMinutes = 15
	}
	prefs := &f.SyncPreferences{
		UserID:                 userID,
		Strategy:               strategy,
		AutoSyncEnabled:        true,
		PollingEnabled:         strategy == f.StrategyPolling || strategy == f.StrategyHybrid,
		WebhookEnabled:         strategy == f.StrategyWebhook || strategy == f.StrategyHybrid,
		PollingIntervalMinutes: pollingIntervalMinutes,
	}
	if err := m.stores.SyncPrefs.Upsert(ctx, prefs); err != nil {
		return err
	}
	if prefs.WebhookEnabled {
		if err := m.Start(ctx, userID); err != nil {
			if !prefs.PollingEnabled {
				return err
			}
			log.Warn("watch start failed for user %s, polling will cover: %v", userID, err)
		}
	}
	return nil
}

// DisableAutoSync turns background syncing off and stops any active watch.
func (m *Manager) DisableAutoSync(ctx context.Context, userID string) error {
	prefs, err := m.stores.SyncPrefs.Get(ctx, userID)
	if errors.IsNotFound(err) {
		prefs = &f.SyncPreferences{UserID: userID, Strategy: f.StrategyPolling}
	} else if err != nil {
		return err
	}
	prefs.AutoSyncEnabled = false
	prefs.PollingEnabled = false
	prefs.WebhookEnabled = false
	if err := m.stores.SyncPrefs.Upsert(ctx, prefs); err != nil {
		return err
	}
	sub, err := m.stores.Watches.Get(ctx, userID)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.IsActive {
		return m.Stop(ctx, userID)
	}
	return nil
}
