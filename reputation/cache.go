package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the read-through layer in front of the aggregate table.
type Cache interface {
	GetProfile(ctx context.Context, freelancerID string) (Record, bool, error)
	SetProfile(ctx context.Context, rec Record) error
	Invalidate(ctx context.Context, freelancerID string) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func profileKey(freelancerID string) string {
	return "reputation:profile:" + freelancerID
}

func (c *RedisCache) GetProfile(ctx context.Context, freelancerID string) (Record, bool, error) {
	raw, err := c.client.Get(ctx, profileKey(freelancerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("reputation: cache get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("reputation: cache decode: %w", err)
	}
	return rec, true, nil
}

func (c *RedisCache) SetProfile(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("reputation: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, profileKey(rec.FreelancerID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("reputation: cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, freelancerID string) error {
	if err := c.client.Del(ctx, profileKey(freelancerID)).Err(); err != nil {
		return fmt.Errorf("reputation: cache invalidate: %w", err)
	}
	return nil
}
