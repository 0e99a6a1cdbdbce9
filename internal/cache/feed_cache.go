// Package cache keeps rendered public feed pages in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FeedCache 公共列表页缓存。写操作只需 Invalidate，旧版本的 key 靠 TTL 过期。
// 读者在查询前取一次 Version，Get 与回填 Set 都用这个版本，
// 查询期间发生的 Invalidate 只会让回填写进已废弃的版本。
type FeedCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64, key string, dst any) (bool, error)
	Set(ctx context.Context, version int64, key string, v any) error
	Invalidate(ctx context.Context) error
}

// RedisFeedCache 以版本号为前缀存 JSON；Invalidate 递增版本号
type RedisFeedCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisFeedCache(client *redis.Client, prefix string, ttl time.Duration) *RedisFeedCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisFeedCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisFeedCache) versionKey() string { return c.prefix + "feed:version" }

func (c *RedisFeedCache) pageKey(version int64, key string) string {
	return fmt.Sprintf("%sfeed:v%d:%s", c.prefix, version, key)
}

func (c *RedisFeedCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *RedisFeedCache) Get(ctx context.Context, version int64, key string, dst any) (bool, error) {
	k := c.pageKey(version, key)
	data, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// 格式不兼容当作未命中
		_ = c.client.Del(ctx, k).Err()
		return false, nil
	}
	return true, nil
}

func (c *RedisFeedCache) Set(ctx context.Context, version int64, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.pageKey(version, key), payload, c.ttl).Err()
}

func (c *RedisFeedCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.versionKey()).Err()
}

// Noop 未配置 Redis 时使用
type Noop struct{}

func (Noop) Version(context.Context) (int64, error) { return 0, nil }

func (Noop) Get(context.Context, int64, string, any) (bool, error) { return false, nil }

func (Noop) Set(context.Context, int64, string, any) error { return nil }

func (Noop) Invalidate(context.Context) error { return nil }
