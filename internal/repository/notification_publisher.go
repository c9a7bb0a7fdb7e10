package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// RedisNotificationPublisher fans notifications out over a Redis channel.
type RedisNotificationPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisNotificationPublisher constructs the publisher.
func NewRedisNotificationPublisher(client *redis.Client, channel string) *RedisNotificationPublisher {
	if channel == "" {
		channel = "immigration:notifications"
	}
	return &RedisNotificationPublisher{client: client, channel: channel}
}

// Name identifies the sink in logs and metrics.
func (p *RedisNotificationPublisher) Name() string { return "redis" }

// Deliver publishes the message as JSON.
func (p *RedisNotificationPublisher) Deliver(ctx context.Context, msg models.NotificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", msg.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification %s: %w", msg.ID, err)
	}
	return nil
}
