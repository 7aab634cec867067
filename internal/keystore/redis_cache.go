package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeySetCache keeps the raw JWKS document in Redis so that every
// instance of the service shares one fetch.
type RedisKeySetCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisKeySetCache stores the document under key. A zero ttl never expires it.
func NewRedisKeySetCache(client *redis.Client, key string, ttl time.Duration) *RedisKeySetCache {
	return &RedisKeySetCache{client: client, key: key, ttl: ttl}
}

func (c *RedisKeySetCache) Get(ctx context.Context) ([]byte, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func (c *RedisKeySetCache) Set(ctx context.Context, document []byte) error {
	return c.client.Set(ctx, c.key, document, c.ttl).Err()
}
