package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ABeGood/reservation-pl/internal/events"
)

// DefaultRedisChannel is the pub/sub channel events are published on.
const DefaultRedisChannel = "reservation:events"

// RedisPublisher is the part of a go-redis client used by [Redis].
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes events as JSON on a Redis pub/sub channel so that other
// processes can follow the monitor.
type Redis struct {
	client  RedisPublisher
	channel string
}

// NewRedis returns a notifier publishing on channel, or on
// [DefaultRedisChannel] when channel is empty.
func NewRedis(client RedisPublisher, channel string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}, nil
}

// NewRedisClient connects to the Redis server at addr and checks the
// connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Notify implements [Notifier].
func (r *Redis) Notify(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
