package queryapi

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheKV is the narrow Redis command surface the response cache consumes.
type CacheKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
}

// floatCache caches a float64 result per cache key with a fixed TTL, mirroring
// the original's FastAPI-Cache-over-Redis response caching for these two
// read-only endpoints.
type floatCache struct {
	rdb    CacheKV
	prefix string
	ttl    time.Duration
}

func newFloatCache(rdb CacheKV, prefix string, ttl time.Duration) *floatCache {
	return &floatCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *floatCache) get(ctx context.Context, key string) (float64, bool) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (c *floatCache) set(ctx context.Context, key string, value float64) {
	_ = c.rdb.Set(ctx, c.prefix+key, strconv.FormatFloat(value, 'f', -1, 64), c.ttl).Err()
}
