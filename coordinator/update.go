package coordinator

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"taskmanager/domain"
)

// Update merges a partial update into the content row and, when asked,
// replaces the assignee set. Members are notified afterwards; notification
// failures never fail the update.
func (c *Coordinator) Update(ctx context.Context, in UpdateInput) (res UpdateResult, err error) {
	ctx, span := c.startSpan(ctx, "Update")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("task.id", in.TaskID), attribute.String("user.id", in.ActorID))

	if in.Patch.Empty() && !in.ReplaceAssignees {
		return UpdateResult{}, domain.NewValidationError("", "no fields to update")
	}
	if in.TaskID == "" {
		return UpdateResult{}, domain.NewValidationError("taskId", "taskId is required")
	}
	if err := in.Patch.Validate(); err != nil {
		return UpdateResult{}, err
	}

	var current domain.Task
	if err := c.store(ctx, func(ctx context.Context) error {
		var err error
		current, err = c.tasks.Get(ctx, in.TaskID)
		return err
	}); err != nil {
		return UpdateResult{}, domain.NewDownstreamError("dts", "get", err)
	}

	updated := in.Patch.Apply(current)
	updated.UpdatedAt = c.stamp(current.UpdatedAt)
	if err := c.store(ctx, func(ctx context.Context) error { return c.tasks.Replace(ctx, updated) }); err != nil {
		return UpdateResult{}, domain.NewDownstreamError("dts", "replace", err)
	}

	fields := in.Patch.Fields()
	if in.ReplaceAssignees {
		if err := c.store(ctx, func(ctx context.Context) error {
			_, err := c.members.ReplaceAssignees(ctx, in.TaskID, in.Assignees, updated.UpdatedAt)
			return err
		}); err != nil {
			c.logger.WithError(err).WithField("task", in.TaskID).Error("content updated but assignees were not replaced")
			return UpdateResult{}, domain.NewDownstreamError("ros", "replace assignees", err)
		}
		fields = append(fields, domain.FieldAssignees)
	}

	members, err := c.memberships(ctx, in.TaskID)
	recipients := domain.Recipients(members)
	if err != nil {
		c.logger.WithError(err).WithField("task", in.TaskID).Warn("memberships unavailable, notifying actor only")
		recipients = []string{c.actor(in.ActorID, updated)}
	}
	c.notifyAll(ctx, recipients, domain.Notification{
		TaskID:        updated.TaskID,
		ActorID:       in.ActorID,
		Type:          domain.NotificationTaskUpdated,
		Message:       fmt.Sprintf("Task %q was updated", updated.Title),
		UpdatedFields: fields,
		UpdatedTask:   &updated,
		CreatedAt:     updated.UpdatedAt,
	})

	c.logger.WithFields(log.Fields{"task": in.TaskID, "user": in.ActorID, "fields": fields}).Info("task updated")
	return UpdateResult{
		View:          domain.TaskView{Task: updated, Memberships: members},
		UpdatedFields: fields,
	}, nil
}

func (c *Coordinator) actor(actorID string, t domain.Task) string {
	if actorID != "" {
		return actorID
	}
	return t.UserID
}

func (c *Coordinator) memberships(ctx context.Context, taskID string) ([]domain.Membership, error) {
	var members []domain.Membership
	err := c.store(ctx, func(ctx context.Context) error {
		var err error
		members, err = c.members.ForTask(ctx, taskID)
		return err
	})
	return members, err
}

// notifyAll publishes one copy of n per recipient. Failures are logged and
// counted only.
func (c *Coordinator) notifyAll(ctx context.Context, recipients []string, n domain.Notification) {
	for _, userID := range recipients {
		msg := n
		msg.UserID = userID
		pctx, cancel := context.WithTimeout(ctx, c.queueTimeout)
		err := c.notifier.Publish(pctx, msg)
		cancel()
		if err != nil {
			c.metrics.Published.WithLabelValues(n.Type, "failed").Inc()
			c.logger.WithError(err).WithFields(log.Fields{"task": n.TaskID, "user": userID, "type": n.Type}).Warn("notification not published")
			continue
		}
		c.metrics.Published.WithLabelValues(n.Type, "published").Inc()
	}
}
