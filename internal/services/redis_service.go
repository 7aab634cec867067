package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisReplayGuard is a ReplayGuard shared by all service instances.
type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReplayGuard remembers notifications for ttl.
func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (r *RedisReplayGuard) Mark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	stored, err := r.client.SetNX(ctx, replayKey(id), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record notification: %w", err)
	}
	return !stored, nil
}

func (r *RedisReplayGuard) Forget(ctx context.Context, id string) error {
	return r.client.Del(ctx, replayKey(id)).Err()
}

func replayKey(id string) string {
	return fmt.Sprintf("notification_relay:replay:%s", id)
}
