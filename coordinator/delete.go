package coordinator

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"taskmanager/domain"
)

// Delete removes the memberships and the content row of a task. Memberships
// are deleted inside a transaction that commits only after the content row
// is gone. If the commit itself fails the content row is written back from
// the snapshot taken before the delete.
func (c *Coordinator) Delete(ctx context.Context, taskID, actorID string) (removed []domain.Membership, err error) {
	ctx, span := c.startSpan(ctx, "Delete")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("task.id", taskID), attribute.String("user.id", actorID))

	if taskID == "" {
		return nil, domain.NewValidationError("taskId", "taskId is required")
	}

	var snapshot domain.Task
	if err := c.store(ctx, func(ctx context.Context) error {
		var err error
		snapshot, err = c.tasks.Get(ctx, taskID)
		return err
	}); err != nil {
		return nil, domain.NewDownstreamError("dts", "get", err)
	}

	err = c.store(ctx, func(ctx context.Context) error {
		var err error
		removed, err = c.members.DeleteTask(ctx, taskID, func(ctx context.Context) error {
			return c.tasks.Delete(ctx, taskID)
		})
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrCommitFailed) {
			return nil, c.undoDelete(ctx, snapshot, domain.NewDownstreamError("ros", "delete memberships", err))
		}
		return nil, domain.NewDownstreamError("dts", "delete", err)
	}

	recipients := domain.Recipients(removed)
	if len(recipients) == 0 {
		recipients = []string{c.actor(actorID, snapshot)}
	}
	c.notifyAll(ctx, recipients, domain.Notification{
		TaskID:    taskID,
		ActorID:   actorID,
		Type:      domain.NotificationTaskDeleted,
		Message:   fmt.Sprintf("Task %q was deleted", snapshot.Title),
		CreatedAt: c.clock(),
	})

	c.logger.WithFields(log.Fields{"task": taskID, "user": actorID, "memberships": len(removed)}).Info("task deleted")
	return removed, nil
}

func (c *Coordinator) undoDelete(ctx context.Context, snapshot domain.Task, cause error) error {
	ctx = context.WithoutCancel(ctx)
	entry := c.logger.WithFields(log.Fields{"task": snapshot.TaskID, "stage": "delete"})

	err := c.store(ctx, func(ctx context.Context) error { return c.tasks.Insert(ctx, snapshot) })
	var conflict *domain.ConflictError
	if err == nil || errors.As(err, &conflict) {
		c.metrics.Compensations.WithLabelValues("delete", "compensated").Inc()
		entry.WithError(cause).Warn("membership commit failed, content row restored")
		return cause
	}
	c.metrics.Compensations.WithLabelValues("delete", "failed").Inc()
	entry.WithError(cause).WithField("compensation_error", err.Error()).Error("membership commit failed and content row could not be restored; memberships reference missing content")
	return &domain.PartialFailureError{Op: "delete", TaskID: snapshot.TaskID, Err: cause, CompensationErr: err}
}
