package secrets

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisResolver resolves secrets from string keys in a Redis database,
// for deployments that rotate tokens centrally rather than via the host
// environment.
type RedisResolver struct {
	client *redis.Client
	prefix string
}

// NewRedisResolver builds a RedisResolver against an already-connected
// client. Keys are looked up as prefix+key.
func NewRedisResolver(client *redis.Client, prefix string) *RedisResolver {
	return &RedisResolver{client: client, prefix: prefix}
}

func (r *RedisResolver) Resolve(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("secrets: redis key %q not found", r.prefix+key)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: redis lookup %q: %w", r.prefix+key, err)
	}
	return val, nil
}
