package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskmanager/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
	GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error)
}

// Queue sends and receives messages on one Azure storage queue.
type Queue struct {
	name   string
	client queueClient
}

// QueueClientOptions returns the retry policy used for queue clients.
func QueueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 60 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewQueue opens the named queue from a storage connection string.
func NewQueue(connStr, name string) (*Queue, error) {
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, name, QueueClientOptions())
	if err != nil {
		return nil, err
	}
	return &Queue{name: name, client: qc}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue sends body as a new message.
func (q *Queue) Enqueue(ctx context.Context, body string) error {
	if _, err := q.client.EnqueueMessage(ctx, body, nil); err != nil {
		return &domain.DownstreamError{Store: "queue " + q.name, Op: "enqueue", Err: err}
	}
	return nil
}

// Dequeue receives up to n messages and hides them for visibility.
func (q *Queue) Dequeue(ctx context.Context, n int32, visibility time.Duration) ([]domain.QueueMessage, error) {
	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(n),
		VisibilityTimeout: to.Ptr(int32(visibility / time.Second)),
	})
	if err != nil {
		return nil, &domain.DownstreamError{Store: "queue " + q.name, Op: "dequeue", Err: err}
	}
	out := make([]domain.QueueMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := domain.QueueMessage{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			msg.Body = *m.MessageText
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		out = append(out, msg)
	}
	return out, nil
}

// Delete removes a received message.
func (q *Queue) Delete(ctx context.Context, msg domain.QueueMessage) error {
	if _, err := q.client.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		return &domain.DownstreamError{Store: "queue " + q.name, Op: "delete", Err: err}
	}
	return nil
}

// Pending returns the approximate number of messages waiting in the queue.
func (q *Queue) Pending(ctx context.Context) (int32, error) {
	resp, err := q.client.GetProperties(ctx, nil)
	if err != nil {
		return 0, &domain.DownstreamError{Store: "queue " + q.name, Op: "properties", Err: err}
	}
	if resp.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return *resp.ApproximateMessagesCount, nil
}
