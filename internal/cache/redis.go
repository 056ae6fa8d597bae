package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shopify-analytics-agent/internal/domain"
)

// redisAPI is the subset of the go-redis client used here.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis is a cache shared between instances.
type Redis struct {
	client     redisAPI
	defaultTTL time.Duration
}

// NewRedis wraps client.
func NewRedis(client redisAPI, defaultTTL time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("cache: redis client must not be nil")
	}
	if defaultTTL <= 0 {
		return nil, errors.New("cache: default ttl must be positive")
	}
	return &Redis{client: client, defaultTTL: defaultTTL}, nil
}

// NewRedisFromURL connects using a redis:// URL.
func NewRedisFromURL(url string, defaultTTL time.Duration) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	c, err := NewRedis(client, defaultTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return c, client, nil
}

func (r *Redis) Get(ctx context.Context, key string) (domain.CachedAnswer, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CachedAnswer{}, false, nil
	}
	if err != nil {
		return domain.CachedAnswer{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var v domain.CachedAnswer
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.CachedAnswer{}, false, fmt.Errorf("cache: decode entry %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, v domain.CachedAnswer, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Backend() string { return "redis" }
