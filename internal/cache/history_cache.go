// Package cache provides an optional Redis-backed cache for recent thread
// history, shaving the hot read off the message table on busy threads.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/confchat/go-confchat-backend/internal/domain"
)

// HistoryCache caches the recent-message window per thread. A nil
// *HistoryCache is a valid no-op cache, so callers never branch on whether
// Redis is configured.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

// NewHistoryCache wraps a Redis client. Returns nil when client is nil.
func NewHistoryCache(client *redisv9.Client, historyTTL time.Duration) *HistoryCache {
	if client == nil {
		return nil
	}
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: 5 * time.Second,
	}
}

// GetHistory returns the cached window and whether it was present. A thread
// marked dirty reads as a miss so a fresh write is never shadowed by a
// stale window.
func (c *HistoryCache) GetHistory(ctx context.Context, threadID string) ([]domain.Message, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	dirty, err := c.client.Exists(ctx, c.dirtyKey(threadID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis check dirty marker: %w", err)
	}
	if dirty > 0 {
		return nil, false, nil
	}

	raw, err := c.client.Get(ctx, c.historyKey(threadID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history: %w", err)
	}
	var messages []domain.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history: %w", err)
	}
	return messages, true, nil
}

// SetHistory stores the window and clears any dirty marker.
func (c *HistoryCache) SetHistory(ctx context.Context, threadID string, messages []domain.Message) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.historyKey(threadID), payload, c.historyTTL)
	pipe.Del(ctx, c.dirtyKey(threadID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set history: %w", err)
	}
	return nil
}

// MarkDirty invalidates the window after a write. The short-lived marker
// also suppresses re-population racing the write.
func (c *HistoryCache) MarkDirty(ctx context.Context, threadID string) error {
	if c == nil {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.historyKey(threadID))
	pipe.Set(ctx, c.dirtyKey(threadID), "1", c.dirtyMarkerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark history dirty: %w", err)
	}
	return nil
}

func (c *HistoryCache) historyKey(threadID string) string {
	return "chat:history:" + threadID
}

func (c *HistoryCache) dirtyKey(threadID string) string {
	return "chat:history:dirty:" + threadID
}
