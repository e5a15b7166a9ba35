package coordinator

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"taskmanager/domain"
)

// AttachResult pairs an upload grant with the task it was recorded on.
type AttachResult struct {
	Grant  domain.UploadGrant
	Update UpdateResult
}

// AttachFile issues an upload grant and records the attachment fields on the
// task through the regular update path.
func (c *Coordinator) AttachFile(ctx context.Context, taskID, userID, filename string) (res AttachResult, err error) {
	ctx, span := c.startSpan(ctx, "AttachFile")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("task.id", taskID), attribute.String("user.id", userID))

	if c.grants == nil {
		return AttachResult{}, errors.New("attachments are not configured")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return AttachResult{}, domain.NewValidationError("filename", "filename is required")
	}
	if taskID == "" {
		return AttachResult{}, domain.NewValidationError("taskId", "taskId is required")
	}

	grant, err := c.grants.IssueUploadGrant(ctx, filename, taskID, userID)
	if err != nil {
		return AttachResult{}, err
	}
	uploadedAt := c.clock()
	upd, err := c.Update(ctx, UpdateInput{
		TaskID:  taskID,
		ActorID: userID,
		Patch: domain.TaskPatch{
			FileKey:      domain.Value(grant.FileKey),
			AttachmentID: domain.Value(grant.AttachmentID),
			UploadedAt:   domain.Value(uploadedAt),
		},
	})
	if err != nil {
		return AttachResult{}, err
	}
	return AttachResult{Grant: grant, Update: upd}, nil
}
