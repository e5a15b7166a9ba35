// Command wait-queues blocks until the task queues stay empty for a number
// of consecutive polls.
package main

import (
	"context"
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmanager/config"
	"taskmanager/storage"
)

func main() {
	var (
		timeout  = flag.Duration("timeout", 2*time.Minute, "maximum time to wait for queues to drain")
		interval = flag.Duration("interval", 2*time.Second, "polling interval")
		stable   = flag.Int("stable", 3, "number of consecutive empty polls required per queue")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Storage.ConnectionString == "" {
		log.Fatal("STORAGE_CONNECTION_STRING is required")
	}

	var queues []*storage.Queue
	for _, name := range []string{cfg.Storage.CommandQueue, cfg.Storage.NotificationQueue} {
		q, err := storage.NewQueue(cfg.Storage.ConnectionString, name)
		if err != nil {
			log.Fatalf("queue %s: %v", name, err)
		}
		queues = append(queues, q)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := waitDrained(ctx, queues, *interval, *stable); err != nil {
		log.Fatalf("queue wait failed: %v", err)
	}
	log.Info("all queues drained")
}

func waitDrained(ctx context.Context, queues []*storage.Queue, interval time.Duration, required int) error {
	if required < 1 {
		required = 1
	}
	empty := make(map[string]int, len(queues))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done := true
		for _, q := range queues {
			n, err := q.Pending(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.WithFields(log.Fields{"queue": q.Name(), "pending": n}).Info("queue not drained")
				empty[q.Name()] = 0
				done = false
				continue
			}
			empty[q.Name()]++
			if empty[q.Name()] < required {
				done = false
			}
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
