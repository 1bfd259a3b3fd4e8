package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aq2208/group-order-api/internal/usecase"
)

// RedisCodeCache maps invite codes to session ids so validate-join-code
// skips the store on the hot path. The store's active-code index remains
// the source of truth; a miss here is never an error.
type RedisCodeCache struct {
	rdb *redis.Client
}

func NewRedisCodeCache(rdb *redis.Client) *RedisCodeCache {
	return &RedisCodeCache{rdb: rdb}
}

func codeKey(code string) string { return "grporder:code:" + code }

func (c *RedisCodeCache) SetCode(ctx context.Context, code, sessionID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, codeKey(code), sessionID, ttl).Err()
}

func (c *RedisCodeCache) GetCode(ctx context.Context, code string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, codeKey(code)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCodeCache) DelCode(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, codeKey(code)).Err()
}

var _ usecase.CodeCache = (*RedisCodeCache)(nil)
