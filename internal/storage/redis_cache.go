package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for cached extractions
const extractionKeyPrefix = "idocr:extraction:"

// RedisCache is the shared tier of ExtractionCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient connects to url. Returns nil, nil if the URL is empty (Redis not configured).
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get loads an entry. A missing key is not an error.
func (r *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	b, err := r.client.Get(ctx, extractionKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return &entry, true, nil
}

// Set stores an entry as JSON with the cache TTL.
func (r *RedisCache) Set(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return r.client.Set(ctx, extractionKeyPrefix+entry.Key, b, ttl).Err()
}

// Health checks the Redis connection.
func (r *RedisCache) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
