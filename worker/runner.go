// Package worker drives a batch handler from an Azure storage queue.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"taskmanager/domain"
)

// Source is a queue that hands out messages for a bounded time.
type Source interface {
	Name() string
	Dequeue(ctx context.Context, n int32, visibility time.Duration) ([]domain.QueueMessage, error)
	Delete(ctx context.Context, msg domain.QueueMessage) error
}

// Handler processes one batch and reports per-message outcomes.
type Handler interface {
	ProcessBatch(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult

func (f HandlerFunc) ProcessBatch(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult {
	return f(ctx, msgs)
}

// Config tunes a Runner.
type Config struct {
	Source            Source
	Handler           Handler
	Logger            *log.Logger
	Messages          *prometheus.CounterVec
	BatchSize         int32
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	MaxDequeue        int64
	QueueTimeout      time.Duration
}

// Runner polls Source until its context is cancelled.
type Runner struct {
	cfg Config
	log *log.Entry
}

// NewMessageCounter creates the queue message counter and registers it when
// reg is non-nil.
func NewMessageCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_queue_messages_total",
		Help: "Queue messages by queue and outcome.",
	}, []string{"queue", "outcome"})
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Runner, error) {
	if cfg.Source == nil || cfg.Handler == nil {
		return nil, errors.New("worker: source and handler are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Messages == nil {
		cfg.Messages = NewMessageCounter(nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.VisibilityTimeout < time.Second {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxDequeue <= 0 {
		cfg.MaxDequeue = 5
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 3 * time.Second
	}
	return &Runner{cfg: cfg, log: cfg.Logger.WithField("queue", cfg.Source.Name())}, nil
}

// Run polls until ctx is done. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("worker started")
	for {
		n, err := r.Poll(ctx)
		if ctx.Err() != nil {
			r.log.Info("worker stopped")
			return nil
		}
		if err != nil {
			r.log.WithError(err).Warn("dequeue failed")
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			r.log.Info("worker stopped")
			return nil
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// Poll runs one dequeue/process/delete cycle and returns how many messages
// were received.
func (r *Runner) Poll(ctx context.Context) (int, error) {
	var msgs []domain.QueueMessage
	err := r.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = r.cfg.Source.Dequeue(ctx, r.cfg.BatchSize, r.cfg.VisibilityTimeout)
		return err
	})
	if err != nil || len(msgs) == 0 {
		return 0, err
	}

	batch := make([]domain.QueueMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.DequeueCount > r.cfg.MaxDequeue {
			r.log.WithFields(log.Fields{
				"message_id":    msg.ID,
				"dequeue_count": msg.DequeueCount,
				"body":          msg.Body,
			}).Error("discarding poison message")
			r.count("poison")
			r.delete(ctx, msg)
			continue
		}
		batch = append(batch, msg)
	}
	if len(batch) == 0 {
		return len(msgs), nil
	}

	res := r.cfg.Handler.ProcessBatch(ctx, batch)
	for _, msg := range batch {
		if !res.Succeeded(msg.ID) {
			r.count("failed")
			continue
		}
		r.count("succeeded")
		r.delete(ctx, msg)
	}
	for _, f := range res.Failed {
		r.log.WithFields(log.Fields{"message_id": f.MessageID, "error": f.Error}).Debug("message left for redelivery")
	}
	return len(msgs), nil
}

func (r *Runner) delete(ctx context.Context, msg domain.QueueMessage) {
	err := r.withTimeout(ctx, func(ctx context.Context) error {
		return r.cfg.Source.Delete(ctx, msg)
	})
	if err != nil {
		r.log.WithError(err).WithField("message_id", msg.ID).Warn("failed to delete message")
	}
}

func (r *Runner) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueueTimeout)
	defer cancel()
	return fn(ctx)
}

func (r *Runner) count(outcome string) {
	r.cfg.Messages.WithLabelValues(r.cfg.Source.Name(), outcome).Inc()
}
