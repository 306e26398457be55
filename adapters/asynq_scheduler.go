package adapters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

// Scheduler registers the two recurring triggers and enqueues a scheduler job
// on each tick. Entries are registered fresh at process start; asynq scheduler
// state is process-local, so restarts never accumulate duplicate schedules.
type Scheduler struct {
	scheduler *asynq.Scheduler
}

func NewScheduler(redisURL string, pollingEvery time.Duration, renewEvery time.Duration) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %v", err)
	}
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{},
		LogLevel: asynq.WarnLevel,
	})

	entries := []struct {
		tick  string
		every time.Duration
	}{
		{jobs.NameCheckPolling, pollingEvery},
		{jobs.NameRenewWatches, renewEvery},
	}
	for _, e := range entries {
		payload, err := json.Marshal(jobs.SchedulerJob{Type: e.tick})
		if err != nil {
			return nil, err
		}
		_, err = scheduler.Register(
			fmt.Sprintf("@every %s", e.every),
			asynq.NewTask(e.tick, payload),
			asynq.Queue(f.QueueScheduler),
			asynq.TaskID(e.tick),
			asynq.MaxRetry(0),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", e.tick, err)
		}
		log.Info("scheduler trigger registered %s every %s", e.tick, e.every)
	}
	return &Scheduler{scheduler: scheduler}, nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
