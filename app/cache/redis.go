package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const feedKeyPrefix = "rss:feed:"

// Cache stores rendered RSS documents per feed in Redis
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

type entry struct {
	Content  string `json:"content"`
	CachedAt int64  `json:"cached_at"`
}

func NewCache(ctx context.Context, addr, password string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr, "ttl", ttl)

	return &Cache{
		client: client,
		ttl:    ttl,
	}, nil
}

func FeedKey(feedID string) string {
	return feedKeyPrefix + feedID
}

// GetFeedRSS returns the cached document for a feed; ok is false on a miss.
func (c *Cache) GetFeedRSS(ctx context.Context, feedID string) (string, bool, error) {
	key := FeedKey(feedID)

	data, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	content, ok := decodeEntry(data)
	if !ok {
		// drop unreadable entries so the next request repopulates them
		c.client.Del(ctx, key)
		return "", false, nil
	}

	return content, true, nil
}

func (c *Cache) SetFeedRSS(ctx context.Context, feedID, content string) error {
	if c.ttl <= 0 {
		return nil
	}

	key := FeedKey(feedID)
	data, err := json.Marshal(entry{Content: content, CachedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Invalidate removes the cached documents of the given feeds.
func (c *Cache) Invalidate(ctx context.Context, feedIDs ...string) error {
	if len(feedIDs) == 0 {
		return nil
	}

	keys := make([]string, len(feedIDs))
	for i, id := range feedIDs {
		keys[i] = FeedKey(id)
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Cache) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = size
	}

	return health
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func decodeEntry(data string) (string, bool) {
	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return "", false
	}
	if e.CachedAt == 0 {
		return "", false
	}
	return e.Content, true
}
