package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"taskmanager/domain"
)

// ContactStore resolves a user's delivery address.
type ContactStore interface {
	ContactEmail(ctx context.Context, userID string) (string, error)
}

// TaskReader loads a task snapshot.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (domain.Task, error)
}

// Deduper remembers processed message ids across redeliveries.
type Deduper interface {
	Add(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n domain.RenderedNotification) error
}

// ConsumerConfig wires a Consumer. Deduper and Outcomes are optional.
type ConsumerConfig struct {
	Contacts     ContactStore
	Tasks        TaskReader
	Deduper      Deduper
	Sender       Sender
	Renderer     *Renderer
	Logger       *log.Logger
	Outcomes     *prometheus.CounterVec
	StoreTimeout time.Duration
}

// Consumer processes batches from the notification queue.
type Consumer struct {
	cfg ConsumerConfig
}

// NewOutcomeCounter creates the per-message outcome counter and registers it
// with reg when it is not nil.
func NewOutcomeCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "notifications_total",
		Help:      "Notification messages processed by outcome.",
	}, []string{"outcome"})
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}

// NewConsumer validates cfg and fills in defaults.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Contacts == nil || cfg.Tasks == nil || cfg.Sender == nil {
		return nil, errors.New("notify: contacts, tasks and sender are required")
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NewRenderer()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Outcomes == nil {
		cfg.Outcomes = NewOutcomeCounter(nil)
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Consumer{cfg: cfg}, nil
}

// ProcessBatch handles every message independently. A failing message is
// reported in Failed and never stops the rest of the batch.
func (c *Consumer) ProcessBatch(ctx context.Context, msgs []domain.QueueMessage) domain.BatchResult {
	res := domain.NewBatchResult(len(msgs))
	for _, m := range msgs {
		ok, err := c.process(ctx, m)
		entry := c.cfg.Logger.WithField("message_id", m.ID)
		if err != nil {
			c.cfg.Outcomes.WithLabelValues("failed").Inc()
			entry.WithError(err).Warn("notification failed")
			res.Failed = append(res.Failed, domain.BatchFailure{MessageID: m.ID, Error: err.Error()})
			continue
		}
		outcome := "delivered"
		if ok.Duplicate {
			outcome = "duplicate"
		}
		c.cfg.Outcomes.WithLabelValues(outcome).Inc()
		entry.WithFields(log.Fields{"task": ok.TaskID, "user": ok.UserID, "outcome": outcome}).Info("notification processed")
		res.Successful = append(res.Successful, ok)
	}
	return res
}

func (c *Consumer) process(ctx context.Context, m domain.QueueMessage) (domain.BatchSuccess, error) {
	var n domain.Notification
	if err := sonic.UnmarshalString(m.Body, &n); err != nil {
		return domain.BatchSuccess{}, domain.NewValidationError("", "malformed notification: "+err.Error())
	}
	if n.UserID == "" {
		return domain.BatchSuccess{}, domain.NewValidationError("userId", "userId is required")
	}
	if n.TaskID == "" {
		return domain.BatchSuccess{}, domain.NewValidationError("taskId", "taskId is required")
	}
	switch n.Type {
	case domain.NotificationTaskUpdated, domain.NotificationTaskDeleted:
	default:
		return domain.BatchSuccess{}, domain.NewValidationError("type", fmt.Sprintf("unsupported notification type %q", n.Type))
	}
	ok := domain.BatchSuccess{MessageID: m.ID, Operation: n.Type, TaskID: n.TaskID, UserID: n.UserID, UpdatedFields: n.UpdatedFields}

	if c.cfg.Deduper != nil {
		added, err := c.cfg.Deduper.Add(ctx, m.ID)
		if err != nil {
			return domain.BatchSuccess{}, domain.NewDownstreamError("redis", "dedupe", err)
		}
		if !added {
			ok.Duplicate = true
			return ok, nil
		}
	}

	rendered, err := c.deliver(ctx, n)
	if err != nil {
		if c.cfg.Deduper != nil {
			if rerr := c.cfg.Deduper.Remove(context.WithoutCancel(ctx), m.ID); rerr != nil {
				c.cfg.Logger.WithError(rerr).WithField("message_id", m.ID).Error("failed to release dedupe key")
			}
		}
		return domain.BatchSuccess{}, err
	}
	ok.Recipient = rendered.To
	return ok, nil
}

func (c *Consumer) deliver(ctx context.Context, n domain.Notification) (domain.RenderedNotification, error) {
	var email string
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		email, err = c.cfg.Contacts.ContactEmail(ctx, n.UserID)
		return err
	}); err != nil {
		return domain.RenderedNotification{}, err
	}

	task, err := c.snapshot(ctx, n)
	if err != nil {
		return domain.RenderedNotification{}, err
	}
	rendered, err := c.cfg.Renderer.Render(n, task, email)
	if err != nil {
		return domain.RenderedNotification{}, fmt.Errorf("render: %w", err)
	}
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.cfg.Sender.Send(ctx, rendered)
	}); err != nil {
		return domain.RenderedNotification{}, domain.NewDownstreamError("sender", "send", err)
	}
	return rendered, nil
}

// snapshot prefers the task carried in the message and falls back to the
// document store. A deleted task has nothing left to load.
func (c *Consumer) snapshot(ctx context.Context, n domain.Notification) (domain.Task, error) {
	if n.UpdatedTask != nil {
		return *n.UpdatedTask, nil
	}
	var task domain.Task
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		task, err = c.cfg.Tasks.Get(ctx, n.TaskID)
		return err
	})
	if err != nil && n.Type == domain.NotificationTaskDeleted && domain.IsNotFound(err) {
		return domain.Task{TaskID: n.TaskID}, nil
	}
	return task, err
}

func (c *Consumer) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}
