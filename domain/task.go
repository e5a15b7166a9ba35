package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known task status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority orders tasks for the people working on them.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known task priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is the content row kept in the document store.
type Task struct {
	TaskID       string     `json:"taskId"`
	Title        string     `json:"title"`
	Description  *string    `json:"description"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	DueDate      *time.Time `json:"dueDate"`
	UserID       string     `json:"userId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	FileKey      string     `json:"fileKey,omitempty"`
	AttachmentID string     `json:"attachmentId,omitempty"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
}

// FieldValue renders the named content field for display. Unknown or unset
// fields render as "N/A".
func (t Task) FieldValue(name string) string {
	switch name {
	case FieldTitle:
		return orNA(t.Title)
	case FieldDescription:
		if t.Description == nil {
			return "N/A"
		}
		return orNA(*t.Description)
	case FieldStatus:
		return orNA(string(t.Status))
	case FieldPriority:
		return orNA(string(t.Priority))
	case FieldDueDate:
		return formatTime(t.DueDate)
	case FieldFileKey:
		return orNA(t.FileKey)
	case FieldAttachmentID:
		return orNA(t.AttachmentID)
	case FieldUploadedAt:
		return formatTime(t.UploadedAt)
	case "updatedAt":
		if t.UpdatedAt.IsZero() {
			return "N/A"
		}
		return t.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return "N/A"
}

// MatchesTitle reports whether the task title contains q, ignoring case.
func (t Task) MatchesTitle(q string) bool {
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), strings.ToLower(q))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func formatTime(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "N/A"
	}
	return ts.UTC().Format(time.RFC3339)
}

// TaskView merges task content with its membership rows.
type TaskView struct {
	Task        Task         `json:"task"`
	Memberships []Membership `json:"membership"`
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Status Status
	Title  string
}
