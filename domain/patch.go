package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Content field names as they appear on the wire and in notifications.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldStatus       = "status"
	FieldPriority     = "priority"
	FieldDueDate      = "dueDate"
	FieldFileKey      = "fileKey"
	FieldAttachmentID = "attachmentId"
	FieldUploadedAt   = "uploadedAt"

	// FieldAssignees marks a replaced assignee set; it is not a content field.
	FieldAssignees = "assignees"
)

// Field is an optional patch value. Set is false when the key was absent;
// Null is true when the key was present with an explicit null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Value returns a Field holding v.
func Value[T any](v T) Field[T] { return Field[T]{Set: true, Value: v} }

// Null returns a Field holding an explicit null.
func Null[T any]() Field[T] { return Field[T]{Set: true, Null: true} }

// TaskPatch is a partial update of task content.
type TaskPatch struct {
	Title        Field[string]
	Description  Field[string]
	Status       Field[Status]
	Priority     Field[Priority]
	DueDate      Field[time.Time]
	FileKey      Field[string]
	AttachmentID Field[string]
	UploadedAt   Field[time.Time]
}

// Empty reports whether the patch carries no fields.
func (p TaskPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the names of the fields present in the patch in a stable order.
func (p TaskPatch) Fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Title.Set, FieldTitle)
	add(p.Description.Set, FieldDescription)
	add(p.Status.Set, FieldStatus)
	add(p.Priority.Set, FieldPriority)
	add(p.DueDate.Set, FieldDueDate)
	add(p.FileKey.Set, FieldFileKey)
	add(p.AttachmentID.Set, FieldAttachmentID)
	add(p.UploadedAt.Set, FieldUploadedAt)
	return out
}

// Validate rejects nulls on required fields and unknown enum values.
func (p TaskPatch) Validate() error {
	if p.Title.Set && (p.Title.Null || strings.TrimSpace(p.Title.Value) == "") {
		return NewValidationError(FieldTitle, "title cannot be empty")
	}
	if p.Status.Set && (p.Status.Null || !p.Status.Value.Valid()) {
		return NewValidationError(FieldStatus, fmt.Sprintf("invalid status %q", p.Status.Value))
	}
	if p.Priority.Set && (p.Priority.Null || !p.Priority.Value.Valid()) {
		return NewValidationError(FieldPriority, fmt.Sprintf("invalid priority %q", p.Priority.Value))
	}
	return nil
}

// Apply returns a copy of t with the patch merged in. Absent fields keep their
// previous value; explicit nulls clear nullable fields.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title.Set {
		t.Title = p.Title.Value
	}
	if p.Description.Set {
		if p.Description.Null {
			t.Description = nil
		} else {
			d := p.Description.Value
			t.Description = &d
		}
	}
	if p.Status.Set {
		t.Status = p.Status.Value
	}
	if p.Priority.Set {
		t.Priority = p.Priority.Value
	}
	if p.DueDate.Set {
		if p.DueDate.Null {
			t.DueDate = nil
		} else {
			d := p.DueDate.Value.UTC()
			t.DueDate = &d
		}
	}
	if p.FileKey.Set {
		t.FileKey = p.FileKey.Value
	}
	if p.AttachmentID.Set {
		t.AttachmentID = p.AttachmentID.Value
	}
	if p.UploadedAt.Set {
		if p.UploadedAt.Null {
			t.UploadedAt = nil
		} else {
			u := p.UploadedAt.Value.UTC()
			t.UploadedAt = &u
		}
	}
	return t
}

var nullLiteral = []byte("null")

// PatchFromRaw builds a TaskPatch from decoded JSON members. Keys outside the
// content fields are ignored so callers can share one payload with other data.
func PatchFromRaw(raw map[string]json.RawMessage) (TaskPatch, error) {
	var p TaskPatch
	var err error
	if p.Title, err = rawField[string](raw, FieldTitle); err != nil {
		return p, err
	}
	if p.Description, err = rawField[string](raw, FieldDescription); err != nil {
		return p, err
	}
	if p.Status, err = rawField[Status](raw, FieldStatus); err != nil {
		return p, err
	}
	if p.Priority, err = rawField[Priority](raw, FieldPriority); err != nil {
		return p, err
	}
	if p.DueDate, err = rawTime(raw, FieldDueDate); err != nil {
		return p, err
	}
	return p, nil
}

// ParsePatch decodes a JSON object into a TaskPatch.
func ParsePatch(data []byte) (TaskPatch, error) {
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return TaskPatch{}, NewValidationError("", "invalid body")
	}
	return PatchFromRaw(raw)
}

func rawField[T any](raw map[string]json.RawMessage, key string) (Field[T], error) {
	v, ok := raw[key]
	if !ok {
		return Field[T]{}, nil
	}
	if bytes.Equal(bytes.TrimSpace(v), nullLiteral) {
		return Null[T](), nil
	}
	var out T
	if err := sonic.Unmarshal(v, &out); err != nil {
		return Field[T]{}, NewValidationError(key, "invalid value")
	}
	return Value(out), nil
}

func rawTime(raw map[string]json.RawMessage, key string) (Field[time.Time], error) {
	f, err := rawField[string](raw, key)
	if err != nil || !f.Set {
		return Field[time.Time]{}, err
	}
	if f.Null || strings.TrimSpace(f.Value) == "" {
		return Null[time.Time](), nil
	}
	ts, err := ParseTime(f.Value)
	if err != nil {
		return Field[time.Time]{}, NewValidationError(key, "invalid timestamp")
	}
	return Value(ts), nil
}

// ParseTime accepts RFC 3339 timestamps and plain dates.
func ParseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
