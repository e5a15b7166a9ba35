package coordinator

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"taskmanager/domain"
)

// Create writes the content row, then the membership rows. When the
// membership write fails the content row is deleted again and the original
// error is returned. If that delete fails too the content row is orphaned
// and a PartialFailureError carrying both errors is returned.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (view domain.TaskView, err error) {
	ctx, span := c.startSpan(ctx, "Create")
	defer func() { endSpan(span, err) }()

	in = in.normalize()
	if err := c.check(in); err != nil {
		return domain.TaskView{}, err
	}

	now := c.clock()
	task := domain.Task{
		TaskID:      c.newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		UserID:      in.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.DueDate != nil {
		d := task.DueDate.UTC()
		task.DueDate = &d
	}
	span.SetAttributes(attribute.String("task.id", task.TaskID), attribute.String("user.id", in.UserID))

	if err := c.store(ctx, func(ctx context.Context) error { return c.tasks.Insert(ctx, task) }); err != nil {
		return domain.TaskView{}, domain.NewDownstreamError("dts", "insert", err)
	}

	rows := domain.CreationMemberships(task.TaskID, in.UserID, in.Assignees, now)
	if err := c.store(ctx, func(ctx context.Context) error { return c.members.Create(ctx, rows) }); err != nil {
		return domain.TaskView{}, c.undoCreate(ctx, task.TaskID, domain.NewDownstreamError("ros", "create memberships", err))
	}

	c.logger.WithFields(log.Fields{"task": task.TaskID, "user": in.UserID, "assignees": len(rows) - 1}).Info("task created")
	return domain.TaskView{Task: task, Memberships: rows}, nil
}

func (c *Coordinator) undoCreate(ctx context.Context, taskID string, cause error) error {
	// The caller may already be gone; the undo still has to run.
	ctx = context.WithoutCancel(ctx)
	entry := c.logger.WithFields(log.Fields{"task": taskID, "stage": "create"})

	err := c.store(ctx, func(ctx context.Context) error { return c.tasks.Delete(ctx, taskID) })
	if err == nil {
		c.metrics.Compensations.WithLabelValues("create", "compensated").Inc()
		entry.WithError(cause).Warn("membership write failed, content row removed")
		return cause
	}
	c.metrics.Compensations.WithLabelValues("create", "failed").Inc()
	entry.WithError(cause).WithField("compensation_error", err.Error()).Error("membership write failed and content row could not be removed; task content is orphaned")
	return &domain.PartialFailureError{Op: "create", TaskID: taskID, Err: cause, CompensationErr: err}
}
