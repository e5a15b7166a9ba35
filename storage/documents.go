package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskmanager/domain"
)

// Every task lives in its own partition under a fixed row key.
const taskRowKey = "task"

const edmDateTime = "Edm.DateTime"

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// Documents stores task content in Azure Table Storage.
type Documents struct {
	table tableClient
}

// TableClientOptions returns the retry policy used for table clients.
func TableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewDocuments opens the tasks table from a storage connection string.
func NewDocuments(connStr, tasksTable string) (*Documents, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
	if err != nil {
		return nil, err
	}
	return &Documents{table: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	PartitionKey   string     `json:"PartitionKey"`
	RowKey         string     `json:"RowKey"`
	Title          string     `json:"Title"`
	Description    *string    `json:"Description,omitempty"`
	Status         string     `json:"Status"`
	Priority       string     `json:"Priority"`
	DueDate        *time.Time `json:"DueDate,omitempty"`
	DueDateType    string     `json:"DueDate@odata.type,omitempty"`
	UserID         string     `json:"UserId"`
	CreatedAt      time.Time  `json:"CreatedAt"`
	CreatedAtType  string     `json:"CreatedAt@odata.type"`
	UpdatedAt      time.Time  `json:"UpdatedAt"`
	UpdatedAtType  string     `json:"UpdatedAt@odata.type"`
	FileKey        string     `json:"FileKey,omitempty"`
	AttachmentID   string     `json:"AttachmentId,omitempty"`
	UploadedAt     *time.Time `json:"UploadedAt,omitempty"`
	UploadedAtType string     `json:"UploadedAt@odata.type,omitempty"`
}

func toEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		PartitionKey:  t.TaskID,
		RowKey:        taskRowKey,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		DueDate:       t.DueDate,
		UserID:        t.UserID,
		CreatedAt:     t.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
		UpdatedAt:     t.UpdatedAt.UTC(),
		UpdatedAtType: edmDateTime,
		FileKey:       t.FileKey,
		AttachmentID:  t.AttachmentID,
		UploadedAt:    t.UploadedAt,
	}
	if t.DueDate != nil {
		ent.DueDateType = edmDateTime
	}
	if t.UploadedAt != nil {
		ent.UploadedAtType = edmDateTime
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		TaskID:       e.PartitionKey,
		Title:        e.Title,
		Description:  e.Description,
		Status:       domain.Status(e.Status),
		Priority:     domain.Priority(e.Priority),
		DueDate:      utcPtr(e.DueDate),
		UserID:       e.UserID,
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
		FileKey:      e.FileKey,
		AttachmentID: e.AttachmentID,
		UploadedAt:   utcPtr(e.UploadedAt),
	}
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	u := ts.UTC()
	return &u
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// Insert adds a new task row. A row with the same id yields a ConflictError.
func (d *Documents) Insert(ctx context.Context, t domain.Task) error {
	payload, err := sonic.ConfigStd.Marshal(toEntity(t))
	if err != nil {
		return err
	}
	if _, err := d.table.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return &domain.ConflictError{Entity: "task", Key: t.TaskID, Err: err}
		}
		return &domain.DownstreamError{Store: "dts", Op: "insert", Err: err}
	}
	return nil
}

// Get loads a task row or returns a NotFoundError.
func (d *Documents) Get(ctx context.Context, taskID string) (domain.Task, error) {
	resp, err := d.table.GetEntity(ctx, taskID, taskRowKey, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.Task{}, &domain.NotFoundError{Entity: "task", ID: taskID}
		}
		return domain.Task{}, &domain.DownstreamError{Store: "dts", Op: "get", Err: err}
	}
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, &domain.DownstreamError{Store: "dts", Op: "decode", Err: err}
	}
	return ent.task(), nil
}

// Replace overwrites the whole task row. Properties missing from t are
// removed from the stored row.
func (d *Documents) Replace(ctx context.Context, t domain.Task) error {
	payload, err := sonic.ConfigStd.Marshal(toEntity(t))
	if err != nil {
		return err
	}
	if _, err := d.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return &domain.DownstreamError{Store: "dts", Op: "replace", Err: err}
	}
	return nil
}

// Delete removes a task row. Deleting a missing row is not an error.
func (d *Documents) Delete(ctx context.Context, taskID string) error {
	if _, err := d.table.DeleteEntity(ctx, taskID, taskRowKey, nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil
		}
		return &domain.DownstreamError{Store: "dts", Op: "delete", Err: err}
	}
	return nil
}
