package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmanager/config"
	"taskmanager/coordinator"
	"taskmanager/notify"
	"taskmanager/storage"
)

// Clients holds the long-lived connections of one process.
type Clients struct {
	Redis         *redis.Client
	Pool          *pgxpool.Pool
	Tasks         *storage.TaskCache
	Memberships   *storage.Memberships
	Notifications *storage.Queue
	Commands      *storage.Queue
	Registry      *prometheus.Registry
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Open connects to Redis, PostgreSQL and Azure storage.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Clients, error) {
	rc := redis.NewClient(cfg.Redis.RedisOptions())
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	pool, err := storage.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	c := &Clients{Redis: rc, Pool: pool, Memberships: storage.NewMemberships(pool), Registry: NewRegistry()}
	docs, err := storage.NewDocuments(cfg.Storage.ConnectionString, cfg.Storage.TasksTable)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("tables: %w", err)
	}
	c.Tasks = storage.NewTaskCache(docs, rc, cfg.Redis.TaskCacheTTL)

	if c.Notifications, err = storage.NewQueue(cfg.Storage.ConnectionString, cfg.Storage.NotificationQueue); err != nil {
		c.Close()
		return nil, fmt.Errorf("notification queue: %w", err)
	}
	if c.Commands, err = storage.NewQueue(cfg.Storage.ConnectionString, cfg.Storage.CommandQueue); err != nil {
		c.Close()
		return nil, fmt.Errorf("command queue: %w", err)
	}
	logger.WithFields(log.Fields{
		"table":              cfg.Storage.TasksTable,
		"notification_queue": cfg.Storage.NotificationQueue,
		"command_queue":      cfg.Storage.CommandQueue,
	}).Info("storage clients ready")
	return c, nil
}

// Close releases the pool and the Redis client.
func (c *Clients) Close() error {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}

// NewCoordinator wires the coordinator to the opened clients. grants may be
// nil for services that never attach files.
func NewCoordinator(cfg *config.Config, c *Clients, grants coordinator.GrantIssuer, logger *log.Logger) (*coordinator.Coordinator, error) {
	if c == nil || c.Tasks == nil {
		return nil, errors.New("bootstrap: clients are not open")
	}
	return coordinator.New(coordinator.Config{
		Tasks:        c.Tasks.Fresh(),
		Reader:       c.Tasks,
		Memberships:  c.Memberships,
		Notifier:     notify.NewPublisher(c.Notifications),
		Grants:       grants,
		Logger:       logger,
		Metrics:      coordinator.NewMetrics(c.Registry),
		StoreTimeout: cfg.Timeouts.Store,
		QueueTimeout: cfg.Timeouts.Queue,
	})
}
