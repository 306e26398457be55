package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inboxpilot/inboxpilot/adapters"
	"github.com/inboxpilot/inboxpilot/agents"
	"github.com/inboxpilot/inboxpilot/classify"
	"github.com/inboxpilot/inboxpilot/config"
	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/deadletter"
	"github.com/inboxpilot/inboxpilot/emailsync"
	"github.com/inboxpilot/inboxpilot/httpapi"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
	"github.com/inboxpilot/inboxpilot/ocr"
	"github.com/inboxpilot/inboxpilot/schedule"
	"github.com/inboxpilot/inboxpilot/watch"
)

func main() {
	log.Init()

	var cfg config.Config
	config.Load(&cfg)

	db, err := adapters.OpenDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database: %v", err)
	}
	defer db.Close()
	stores := adapters.NewBunStores(db)

	queue, err := adapters.NewAsynqQueueProvider(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to connect to broker: %v", err)
	}
	defer queue.Close()
	producer := jobs.NewProducer(queue)

	cache := adapters.NewCacheProvider(cfg.RedisURL)
	if err := cache.Init(); err != nil {
		log.Fatal("failed to init cache: %v", err)
	}
	defer cache.Close()

	cipher, err := adapters.NewAESTokenCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal("invalid encryption key: %v", err)
	}

	// Provider clients.
	gmail := adapters.NewGmailFactory(adapters.GmailConfig{
		BaseURL:      cfg.GmailBaseURL,
		TokenURL:     cfg.GoogleTokenURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RateLimit:    cfg.GmailRateLimit,
	}, stores.Users, cipher)
	assistant := adapters.NewAnthropicAssistant(adapters.AnthropicConfig{
		BaseURL:         cfg.AnthropicBaseURL,
		APIKey:          cfg.AnthropicAPIKey,
		Model:           cfg.AnthropicModel,
		ClassifyTimeout: cfg.ClassifierTimeout,
	})
	visionCfg := adapters.VisionConfig{
		VisionBaseURL:  cfg.VisionBaseURL,
		StorageBaseURL: cfg.StorageBaseURL,
		Bucket:         cfg.StorageBucket,
		ServiceToken:   cfg.GoogleServiceToken,
	}
	extractor := adapters.NewVisionExtractor(visionCfg)
	blobs := adapters.NewGCSBlobStore(visionCfg)
	artifacts := adapters.NewWorkspaceCreator(adapters.WorkspaceConfig{
		DriveBaseURL: cfg.DriveBaseURL,
		DocsBaseURL:  cfg.DocsBaseURL,
		ServiceToken: cfg.GoogleServiceToken,
	})
	links := adapters.NewHTTPLinkFetcher()

	// Pipeline handlers.
	watches := watch.NewManager(stores, gmail, cfg.PubSubTopic)
	syncHandler := emailsync.NewHandler(stores, gmail, producer, blobs, extractor)
	classifyHandler := classify.NewHandler(stores, assistant, producer)
	agentHandler := agents.NewHandler(stores, assistant, artifacts, links)
	ocrHandler := ocr.NewHandler(stores, extractor, producer)
	tickHandler := schedule.NewHandler(stores, producer, watches)
	dlHandler := deadletter.NewHandler(stores)

	pools := startPools(cfg, producer, syncHandler, classifyHandler, agentHandler, ocrHandler, tickHandler, dlHandler)

	scheduler, err := adapters.NewScheduler(cfg.RedisURL, cfg.PollingCheckEvery, cfg.WatchRenewEvery)
	if err != nil {
		log.Fatal("failed to build scheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start scheduler: %v", err)
	}

	verifier := adapters.NewPushTokenVerifier(cfg.PushJWKSURL, cfg.PushAudience, cfg.PushSkipVerify)
	dedup := adapters.NewIdempotencyStore(cache, 24*time.Hour)
	server := httpapi.NewServer(stores, producer, queue, classifyHandler, watches, verifier, dedup)
	go func() {
		if err := server.Listen(cfg.Port); err != nil {
			log.Warn("http server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	scheduler.Shutdown()
	for _, pool := range pools {
		pool.Shutdown()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http shutdown: %v", err)
	}
}

// startPools builds and starts one worker pool per queue. Concurrency and
// rate limits bound pressure on the upstream APIs each queue talks to.
func startPools(
	cfg config.Config,
	producer jobs.Producer,
	syncHandler *emailsync.Handler,
	classifyHandler *classify.Handler,
	agentHandler *agents.Handler,
	ocrHandler *ocr.Handler,
	tickHandler *schedule.Handler,
	dlHandler *deadletter.Handler,
) []*adapters.WorkerPool {
	build := func(pc adapters.PoolConfig, register func(p *adapters.WorkerPool)) *adapters.WorkerPool {
		pool, err := adapters.NewWorkerPool(cfg.RedisURL, pc, producer)
		if err != nil {
			log.Fatal("failed to build %s pool: %v", pc.Queue, err)
		}
		register(pool)
		if err := pool.Start(); err != nil {
			log.Fatal("failed to start %s pool: %v", pc.Queue, err)
		}
		return pool
	}

	return []*adapters.WorkerPool{
		build(adapters.PoolConfig{
			Queue:       f.QueueEmailSync,
			Concurrency: 3,
			RateLimit:   adapters.RateLimit{Max: 10, Window: time.Second},
			DeadLetter:  true,
		}, func(p *adapters.WorkerPool) {
			p.Handle(jobs.NameSyncEmails, syncHandler.Handle)
		}),
		build(adapters.PoolConfig{
			Queue:       f.QueueClassification,
			Concurrency: 5,
			RateLimit:   adapters.RateLimit{Max: 20, Window: time.Second},
			DeadLetter:  true,
		}, func(p *adapters.WorkerPool) {
			p.Handle(jobs.NameClassifyEmail, classifyHandler.Handle)
		}),
		build(adapters.PoolConfig{
			Queue:       f.QueueAgents,
			Concurrency: 3,
			RateLimit:   adapters.RateLimit{Max: 10, Window: time.Second},
			DeadLetter:  true,
		}, func(p *adapters.WorkerPool) {
			p.Handle(f.AgentTaskExtractor, agentHandler.Handle)
			p.Handle(f.AgentDocumentSummarizer, agentHandler.Handle)
			p.Handle(f.AgentSOWGenerator, agentHandler.Handle)
		}),
		build(adapters.PoolConfig{
			Queue:       f.QueueDocumentOCR,
			Concurrency: 2,
			RateLimit:   adapters.RateLimit{Max: 5, Window: time.Second},
			DeadLetter:  true,
		}, func(p *adapters.WorkerPool) {
			p.Handle(jobs.NameDocumentOCR, ocrHandler.Handle)
		}),
		build(adapters.PoolConfig{
			Queue:       f.QueueScheduler,
			Concurrency: 1,
			DeadLetter:  false,
		}, func(p *adapters.WorkerPool) {
			p.Handle(jobs.NameCheckPolling, tickHandler.Handle)
			p.Handle(jobs.NameRenewWatches, tickHandler.Handle)
		}),
		build(adapters.PoolConfig{
			Queue:       f.QueueDeadLetter,
			Concurrency: 1,
			DeadLetter:  false,
		}, func(p *adapters.WorkerPool) {
			p.Handle(jobs.NameDeadLetter, dlHandler.Handle)
		}),
	}
}
