// Package coordinator keeps task content in the document store and task
// memberships in the relational store consistent. The two stores share no
// transaction; a membership write that fails after the content row was
// written is undone by deleting that row again.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskmanager/domain"
)

// TaskStore persists task content keyed by task id.
type TaskStore interface {
	Insert(ctx context.Context, t domain.Task) error
	Get(ctx context.Context, taskID string) (domain.Task, error)
	Replace(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, taskID string) error
}

// TaskReader serves read-only task lookups. It may answer from a cache, so
// it is never used to read content that is about to be rewritten.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (domain.Task, error)
}

// MembershipStore persists task-user rows.
type MembershipStore interface {
	Create(ctx context.Context, rows []domain.Membership) error
	ReplaceAssignees(ctx context.Context, taskID string, assignees []string, now time.Time) ([]domain.Membership, error)
	ForTask(ctx context.Context, taskID string) ([]domain.Membership, error)
	TaskIDsForUser(ctx context.Context, userID string) ([]string, error)
	DeleteTask(ctx context.Context, taskID string, then func(context.Context) error) ([]domain.Membership, error)
}

// Notifier publishes change notifications.
type Notifier interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// GrantIssuer hands out upload grants for task attachments.
type GrantIssuer interface {
	IssueUploadGrant(ctx context.Context, filename, taskID, userID string) (domain.UploadGrant, error)
}

// Config wires a Coordinator. Tasks, Memberships and Notifier are required.
// Tasks must read the current row: Update, Delete and AttachFile read through
// it before writing. Reader serves Get and List and defaults to Tasks.
type Config struct {
	Tasks       TaskStore
	Reader      TaskReader
	Memberships MembershipStore
	Notifier    Notifier
	Grants      GrantIssuer

	Logger  *log.Logger
	Tracer  trace.Tracer
	Metrics *Metrics

	// StoreTimeout bounds each store call, QueueTimeout each publish.
	StoreTimeout time.Duration
	QueueTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

// Coordinator runs task operations across both stores.
type Coordinator struct {
	tasks    TaskStore
	reader   TaskReader
	members  MembershipStore
	notifier Notifier
	grants   GrantIssuer

	logger   *log.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	validate *validator.Validate

	storeTimeout time.Duration
	queueTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Tasks == nil || cfg.Memberships == nil || cfg.Notifier == nil {
		return nil, errors.New("coordinator: tasks, memberships and notifier are required")
	}
	c := &Coordinator{
		tasks:        cfg.Tasks,
		reader:       cfg.Reader,
		members:      cfg.Memberships,
		notifier:     cfg.Notifier,
		grants:       cfg.Grants,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		metrics:      cfg.Metrics,
		validate:     newValidator(),
		storeTimeout: cfg.StoreTimeout,
		queueTimeout: cfg.QueueTimeout,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}
	if c.reader == nil {
		c.reader = cfg.Tasks
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("taskmanager/coordinator")
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.storeTimeout <= 0 {
		c.storeTimeout = 5 * time.Second
	}
	if c.queueTimeout <= 0 {
		c.queueTimeout = 3 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

func (c *Coordinator) store(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Coordinator) clock() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// stamp returns a modification time strictly after prev.
func (c *Coordinator) stamp(prev time.Time) time.Time {
	now := c.clock()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (c *Coordinator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorKind(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
