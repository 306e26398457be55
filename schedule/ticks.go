// Package schedule turns wall-clock ticks into sync and renewal work. A
// missed tick loses nothing; the next one catches whoever became due.
package schedule

import (
	"context"
	"encoding/json"
	"time"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
	"github.com/inboxpilot/inboxpilot/watch"
)

type Handler struct {
	stores   f.Stores
	producer jobs.Producer
	watches  *watch.Manager
	now      func() time.Time
}

func NewHandler(stores f.Stores, producer jobs.Producer, watches *watch.Manager) *Handler {
	return &Handler{stores: stores, producer: producer, watches: watches, now: time.Now}
}

// Handle dispatches one scheduler tick.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job jobs.SchedulerJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.BadRequest("invalid scheduler payload: %v", err)
	}
	switch job.Type {
	case jobs.NameCheckPolling:
		return h.CheckPolling(ctx)
	case jobs.NameRenewWatches:
		return h.RenewWatches(ctx)
	default:
		return errors.BadRequest("unknown scheduler tick: %s", job.Type)
	}
}

// CheckPolling enqueues an incremental sync for every polling user whose
// configured interval has elapsed. One user's failure never blocks the rest.
func (h *Handler) CheckPolling(ctx context.Context) error {
	prefs, err := h.stores.SyncPrefs.ListAutoSync(ctx)
	if err != nil {
		return err
	}
	due := 0
	for _, p := range prefs {
		if !p.PollingEnabled {
			continue
		}
		if p.Strategy != f.StrategyPolling && p.Strategy != f.StrategyHybrid {
			continue
		}
		overdue, err := h.isDue(ctx, p)
		if err != nil {
			log.Error("polling check failed for user %s: %v", p.UserID, err)
			continue
		}
		if !overdue {
			continue
		}
		if err := h.producer.EnqueueSync(ctx, p.UserID, false); err != nil {
			log.Error("failed to enqueue sync for user %s: %v", p.UserID, err)
			continue
		}
		due++
	}
	log.Info("polling check enqueued %d sync jobs for %d candidates", due, len(prefs))
	return nil
}

func (h *Handler) isDue(ctx context.Context, p f.SyncPreferences) (bool, error) {
	state, err := h.stores.SyncState.Get(ctx, p.UserID)
	if err != nil {
		return false, err
	}
	if state.Status == f.SyncStatusPaused {
		return false, nil
	}
	if state.LastSyncAt == nil {
		return true, nil
	}
	interval := p.PollingIntervalMinutes
	if interval <= 0 {
		interval = 15
	}
	elapsed := h.now().Sub(*state.LastSyncAt)
	return elapsed >= time.Duration(interval)*time.Minute, nil
}

// RenewWatches renews every active subscription expiring within the renewal
// window. Failures are recorded per subscription and do not abort the batch.
func (h *Handler) RenewWatches(ctx context.Context) error {
	cutoff := h.now().Add(watch.RenewalWindow)
	expiring, err := h.stores.Watches.ListExpiring(ctx, cutoff)
	if err != nil {
		return err
	}
	renewed := 0
	for _, sub := range expiring {
		if err := h.watches.Renew(ctx, sub.UserID); err != nil {
			log.Error("watch renewal failed for user %s: %v", sub.UserID, err)
			continue
		}
		renewed++
	}
	log.Info("watch renewal pass renewed %d of %d expiring subscriptions", renewed, len(expiring))
	return nil
}
