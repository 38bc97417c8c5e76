package storage

import (
	"channels/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps the newest messages of each channel in a capped Redis list.
type RedisCache struct {
	Redis *redis.Client
	Limit int64
}

func NewRedisCache(rdb *redis.Client, limit int) *RedisCache {
	return &RedisCache{Redis: rdb, Limit: int64(limit)}
}

func cacheKey(channelID string) string {
	return "channel:" + channelID + ":messages"
}

func (c *RedisCache) Append(ctx context.Context, m *models.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := cacheKey(m.ChannelID)
	_, err = c.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.LTrim(ctx, key, -c.Limit, -1)
		return nil
	})
	return err
}

// Recent returns up to limit cached messages, oldest first.
func (c *RedisCache) Recent(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	vals, err := c.Redis.LRange(ctx, cacheKey(channelID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(vals))
	for _, v := range vals {
		var m models.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *RedisCache) Drop(ctx context.Context, channelID string) error {
	return c.Redis.Del(ctx, cacheKey(channelID)).Err()
}
