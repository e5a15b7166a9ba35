// Package notify carries task change notifications from the coordinator to
// the people involved in a task.
package notify

import (
	"context"

	"github.com/bytedance/sonic"

	"taskmanager/domain"
)

// Enqueuer sends one message body to a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, body string) error
}

// Publisher encodes notifications onto the notification queue.
type Publisher struct {
	queue Enqueuer
}

// NewPublisher creates a Publisher writing to queue.
func NewPublisher(queue Enqueuer) *Publisher {
	return &Publisher{queue: queue}
}

// Publish enqueues n. The notification type travels in the body.
func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	data, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	return p.queue.Enqueue(ctx, string(data))
}
