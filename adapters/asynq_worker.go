package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/ztrue/tracerr"
	"golang.org/x/time/rate"

	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

// RateLimit caps handler throughput at Max executions per Window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// PoolConfig tunes one worker pool. A pool serves its queue and the queue's
// bulk sibling, urgent work weighted ahead of bulk.
type PoolConfig struct {
	Queue       string
	Concurrency int
	RateLimit   RateLimit
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// DeadLetter disables terminal-failure forwarding when false (the
	// dead-letter pool itself, the scheduler pool).
	DeadLetter bool
}

// WorkerPool claims and executes jobs for one queue with bounded concurrency.
type WorkerPool struct {
	cfg    PoolConfig
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorkerPool builds a pool. producer receives dead-letter jobs for work
// that exhausted its retries; it is the single retry-vs-dead-letter decision
// point, handlers only rethrow.
func NewWorkerPool(redisURL string, cfg PoolConfig, producer jobs.Producer) (*WorkerPool, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %v", err)
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue:            3,
			bulkQueue(cfg.Queue): 1,
		},
		RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
			return backoffDelay(cfg.BackoffBase, cfg.BackoffCap, n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			handleFailedAttempt(cfg, producer, task, retried, maxRetry, err)
		}),
		Logger:   asynqLogger{},
		LogLevel: asynq.WarnLevel,
	})

	pool := &WorkerPool{cfg: cfg, server: server, mux: asynq.NewServeMux()}
	if cfg.RateLimit.Max > 0 {
		limiter := rate.NewLimiter(
			rate.Every(cfg.RateLimit.Window/time.Duration(cfg.RateLimit.Max)),
			cfg.RateLimit.Max,
		)
		pool.mux.Use(func(next asynq.Handler) asynq.Handler {
			return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				return next.ProcessTask(ctx, t)
			})
		})
	}
	// Stamp failures with a stacktrace so dead-letter records carry one.
	pool.mux.Use(func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			if err := next.ProcessTask(ctx, t); err != nil {
				return tracerr.Wrap(err)
			}
			return nil
		})
	})
	return pool, nil
}

// Handle registers a handler for one job name on this pool's queue.
func (p *WorkerPool) Handle(jobName string, handler func(ctx context.Context, payload []byte) error) {
	p.mux.HandleFunc(jobName, func(ctx context.Context, t *asynq.Task) error {
		return handler(ctx, t.Payload())
	})
}

func (p *WorkerPool) Start() error {
	log.Info("starting worker pool queue=%s concurrency=%d", p.cfg.Queue, p.cfg.Concurrency)
	return p.server.Start(p.mux)
}

// Shutdown stops claiming new jobs and waits for in-flight jobs to finish.
func (p *WorkerPool) Shutdown() {
	p.server.Shutdown()
	log.Info("worker pool stopped queue=%s", p.cfg.Queue)
}

// handleFailedAttempt runs on every failed attempt. It forwards the work to
// the dead-letter queue exactly once, on the attempt that exhausts maxRetry;
// earlier failures only get logged and rescheduled by the server.
func handleFailedAttempt(cfg PoolConfig, producer jobs.Producer, task *asynq.Task, retried int, maxRetry int, cause error) {
	log.Error("job failed queue=%s type=%s attempt=%d/%d: %v",
		cfg.Queue, task.Type(), retried+1, maxRetry+1, cause)
	if !cfg.DeadLetter || retried < maxRetry {
		return
	}
	dl := jobs.DeadLetterJob{
		OriginalQueue: cfg.Queue,
		JobName:       task.Type(),
		Payload:       task.Payload(),
		AttemptsMade:  retried + 1,
		FailedReason:  cause.Error(),
		Stacktrace:    tracerr.Sprint(cause),
	}
	if err := producer.EnqueueDeadLetter(context.Background(), dl); err != nil {
		log.Error("failed to enqueue dead-letter job for %s: %v", task.Type(), err)
	}
}

// backoffDelay is base * 2^attempts, capped.
func backoffDelay(base time.Duration, cap time.Duration, attempts int) time.Duration {
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	return delay
}

// asynqLogger routes asynq's internal logging through the service logger.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { log.Debug("%v", fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...any)  { log.Info("%v", fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...any)  { log.Warn("%v", fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...any) { log.Error("%v", fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...any) { log.Fatal("%v", fmt.Sprint(args...)) }
