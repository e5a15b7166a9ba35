package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmanager/bootstrap"
	"taskmanager/config"
	"taskmanager/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := bootstrap.NewLogger(config.StorageInit, cfg)
	if err := cfg.ValidateFor(config.StorageInit); err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := storage.CreateTables(ctx, cfg.Storage.ConnectionString, []string{cfg.Storage.TasksTable}, logger); err != nil {
		logger.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, cfg.Storage.ConnectionString, []string{
		cfg.Storage.NotificationQueue,
		cfg.Storage.CommandQueue,
	}, logger); err != nil {
		logger.Fatalf("create queues: %v", err)
	}

	pool, err := storage.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := storage.Migrate(ctx, pool, logger); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	logger.Info("storage init complete")
}
