package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskmanager/bootstrap"
	"taskmanager/config"
	"taskmanager/notify"
	"taskmanager/storage"
	"taskmanager/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := bootstrap.NewLogger(config.NotificationWorker, cfg)
	if err := cfg.ValidateFor(config.NotificationWorker); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := bootstrap.NewTracerProvider(cfg.TraceSampleRatio, logger)
	defer bootstrap.ShutdownTracer(tp, 5*time.Second, logger)

	clients, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer clients.Close()

	sender, err := newSender(cfg.Notify, clients)
	if err != nil {
		logger.Fatalf("sender: %v", err)
	}
	consumer, err := notify.NewConsumer(notify.ConsumerConfig{
		Contacts:     clients.Memberships,
		Tasks:        clients.Tasks,
		Deduper:      storage.NewRedisDeduper(clients.Redis, "notifications", cfg.Redis.DedupeTTL),
		Sender:       sender,
		Renderer:     notify.NewRenderer(),
		Logger:       logger,
		Outcomes:     notify.NewOutcomeCounter(clients.Registry),
		StoreTimeout: cfg.Timeouts.Store,
	})
	if err != nil {
		logger.Fatalf("consumer: %v", err)
	}
	runner, err := worker.New(worker.Config{
		Source:            clients.Notifications,
		Handler:           consumer,
		Logger:            logger,
		Messages:          worker.NewMessageCounter(clients.Registry),
		BatchSize:         cfg.Worker.BatchSize,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		PollInterval:      cfg.Worker.PollInterval,
		MaxDequeue:        cfg.Worker.MaxDequeue,
		QueueTimeout:      cfg.Timeouts.Queue,
	})
	if err != nil {
		logger.Fatalf("worker: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		return bootstrap.Serve(gctx, bootstrap.NewEcho(clients.Registry, clients.Checks()), ":"+cfg.Port, logger)
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("notification worker: %v", err)
	}
	logger.Info("notification worker stopped")
}

func newSender(cfg config.NotifyConfig, clients *bootstrap.Clients) (notify.Sender, error) {
	if cfg.Channel == "smtp" {
		return notify.NewSMTPSender(cfg.SMTPAddr, cfg.Sender, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return notify.NewRedisSender(clients.Redis), nil
}
