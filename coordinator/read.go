package coordinator

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"taskmanager/domain"
)

// Get returns the content and memberships of a task.
func (c *Coordinator) Get(ctx context.Context, taskID string) (view domain.TaskView, err error) {
	ctx, span := c.startSpan(ctx, "Get")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("task.id", taskID))

	if taskID == "" {
		return domain.TaskView{}, domain.NewValidationError("taskId", "taskId is required")
	}
	var task domain.Task
	if err := c.store(ctx, func(ctx context.Context) error {
		var err error
		task, err = c.reader.Get(ctx, taskID)
		return err
	}); err != nil {
		return domain.TaskView{}, domain.NewDownstreamError("dts", "get", err)
	}
	members, err := c.memberships(ctx, taskID)
	if err != nil {
		return domain.TaskView{}, domain.NewDownstreamError("ros", "list memberships", err)
	}
	return domain.TaskView{Task: task, Memberships: members}, nil
}

// List returns the tasks a user belongs to, newest first. Membership rows
// whose content row is missing are skipped.
func (c *Coordinator) List(ctx context.Context, userID string, filter domain.TaskFilter) (views []domain.TaskView, err error) {
	ctx, span := c.startSpan(ctx, "List")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	if userID == "" {
		return nil, domain.NewValidationError("userId", "userId is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "must be one of: pending in-progress completed")
	}

	var ids []string
	if err := c.store(ctx, func(ctx context.Context) error {
		var err error
		ids, err = c.members.TaskIDsForUser(ctx, userID)
		return err
	}); err != nil {
		return nil, domain.NewDownstreamError("ros", "list tasks", err)
	}

	views = make([]domain.TaskView, 0, len(ids))
	for _, id := range ids {
		view, err := c.Get(ctx, id)
		if domain.IsNotFound(err) {
			c.logger.WithFields(log.Fields{"task": id, "user": userID}).Warn("membership references missing task content")
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && view.Task.Status != filter.Status {
			continue
		}
		if !view.Task.MatchesTitle(filter.Title) {
			continue
		}
		views = append(views, view)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Task.CreatedAt.After(views[j].Task.CreatedAt)
	})
	span.SetAttributes(attribute.Int("tasks.returned", len(views)))
	return views, nil
}
