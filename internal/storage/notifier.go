package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wearable-sync/internal/models"
)

const (
	// notificationHistoryLen caps the per-user list of recent notifications
	notificationHistoryLen = 50
	notificationHistoryTTL = 7 * 24 * time.Hour
)

// Notification is the message published for an alert
type Notification struct {
	UserID string        `json:"userId"`
	Alert  *models.Alert `json:"alert"`
	SentAt time.Time     `json:"sentAt"`
}

// RedisNotifier publishes alerts on a Redis channel and keeps a short
// per-user history for clients that were not subscribed
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing to channel
func NewRedisNotifier(cache *RedisCache, channel string) (*RedisNotifier, error) {
	if cache == nil || cache.Client() == nil {
		return nil, fmt.Errorf("redis cache cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("notification channel cannot be empty")
	}
	return &RedisNotifier{client: cache.Client(), channel: channel}, nil
}

// SendNotification publishes alert for userID
func (n *RedisNotifier) SendNotification(ctx context.Context, userID string, alert *models.Alert) error {
	payload, err := json.Marshal(Notification{
		UserID: userID,
		Alert:  alert,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := historyKey(userID)
	_, err = n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, n.channel, payload)
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, notificationHistoryLen-1)
		pipe.Expire(ctx, key, notificationHistoryTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Recent returns up to limit of a user's latest notifications, newest first
func (n *RedisNotifier) Recent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > notificationHistoryLen {
		limit = notificationHistoryLen
	}

	raw, err := n.client.LRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}

	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var notification Notification
		if err := json.Unmarshal([]byte(item), &notification); err != nil {
			continue
		}
		out = append(out, notification)
	}
	return out, nil
}

// Subscribe returns a subscription to the notification channel
func (n *RedisNotifier) Subscribe(ctx context.Context) *redis.PubSub {
	return n.client.Subscribe(ctx, n.channel)
}

func historyKey(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}
