package notify

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskmanager/domain"
)

// RedisSender publishes rendered notifications to a per-user Redis channel
// that the notification stream endpoint relays to browsers.
type RedisSender struct {
	client *redis.Client
}

// NewRedisSender creates a sender publishing through client.
func NewRedisSender(client *redis.Client) *RedisSender {
	return &RedisSender{client: client}
}

// Channel returns the channel notifications for userID are published on.
func Channel(userID string) string {
	return "notifications:" + userID
}

// Send publishes n to the recipient's channel.
func (s *RedisSender) Send(ctx context.Context, n domain.RenderedNotification) error {
	data, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, Channel(n.UserID), data).Err()
}
