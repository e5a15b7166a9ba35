package coordinator

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"taskmanager/domain"
)

// CreateInput carries the fields of a new task.
type CreateInput struct {
	Title       string          `json:"title" validate:"required"`
	Description *string         `json:"description"`
	Status      domain.Status   `json:"status" validate:"omitempty,oneof=pending in-progress completed"`
	Priority    domain.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time      `json:"dueDate"`
	UserID      string          `json:"userId" validate:"required"`
	Assignees   []string        `json:"assignees"`
}

// NewCreateInput builds a CreateInput from decoded content fields.
func NewCreateInput(p domain.TaskPatch, userID string, assignees []string) CreateInput {
	in := CreateInput{
		Title:     p.Title.Value,
		Status:    p.Status.Value,
		Priority:  p.Priority.Value,
		UserID:    userID,
		Assignees: assignees,
	}
	if p.Description.Set && !p.Description.Null {
		d := p.Description.Value
		in.Description = &d
	}
	if p.DueDate.Set && !p.DueDate.Null {
		d := p.DueDate.Value
		in.DueDate = &d
	}
	return in
}

func (in CreateInput) normalize() CreateInput {
	in.Title = strings.TrimSpace(in.Title)
	in.UserID = strings.TrimSpace(in.UserID)
	if in.Status == "" {
		in.Status = domain.StatusPending
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	return in
}

// UpdateInput carries a partial update. Assignees replace the current
// assignee set only when ReplaceAssignees is true.
type UpdateInput struct {
	TaskID           string
	ActorID          string
	Patch            domain.TaskPatch
	Assignees        []string
	ReplaceAssignees bool
}

// UpdateResult is the merged view after an update.
type UpdateResult struct {
	View          domain.TaskView
	UpdatedFields []string
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Coordinator) check(s any) error {
	err := c.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return domain.NewValidationError(fe.Field(), fe.Field()+" is required")
		case "oneof":
			return domain.NewValidationError(fe.Field(), "must be one of: "+fe.Param())
		}
		return domain.NewValidationError(fe.Field(), "invalid value")
	}
	return domain.NewValidationError("", err.Error())
}
