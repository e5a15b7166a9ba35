package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskmanager/bootstrap"
	"taskmanager/commands"
	"taskmanager/config"
	"taskmanager/storage"
	"taskmanager/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := bootstrap.NewLogger(config.CommandWorker, cfg)
	if err := cfg.ValidateFor(config.CommandWorker); err != nil {
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

	coord, err := bootstrap.NewCoordinator(cfg, clients, nil, logger)
	if err != nil {
		logger.Fatalf("coordinator: %v", err)
	}
	processor, err := commands.NewProcessor(commands.ProcessorConfig{
		Coordinator: coord,
		Deduper:     storage.NewRedisDeduper(clients.Redis, "commands", cfg.Redis.DedupeTTL),
		Logger:      logger,
		Outcomes:    commands.NewOutcomeCounter(clients.Registry),
	})
	if err != nil {
		logger.Fatalf("commands: %v", err)
	}
	runner, err := worker.New(worker.Config{
		Source:            clients.Commands,
		Handler:           processor,
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
		logger.Fatalf("command worker: %v", err)
	}
	logger.Info("command worker stopped")
}
