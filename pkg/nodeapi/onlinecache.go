package nodeapi

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/lock"
)

const (
	onlineSetKey     = "connected-nodes-set"
	onlineSetTimeKey = "connected-nodes-set-time"
	onlineLockName   = "connected-nodes-lock"
	onlineLockTTL    = 2 * time.Second
	staleAfter       = 5 * time.Second
)

// SetKV is the narrow Redis command surface the online-node cache consumes.
type SetKV interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
}

// Locker is the narrow slice of the lock service the cache consumes.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// OnlineCache is a materialized, TTL-bounded set of current cluster member
// names, stored in Redis so the shared set and its refresh timestamp are
// authoritative across every control-plane replica, not replica-local.
type OnlineCache struct {
	adapter clusteradapter.Adapter
	rdb     SetKV
	locker  Locker
	now     func() time.Time
}

// NewOnlineCache creates an OnlineCache backed by the given adapter and Redis client.
func NewOnlineCache(adapter clusteradapter.Adapter, rdb SetKV, locker Locker) *OnlineCache {
	return &OnlineCache{adapter: adapter, rdb: rdb, locker: locker, now: time.Now}
}

// Get returns the current set of online node names, refreshing from the
// cluster adapter if the cached set is unset or older than 5s.
func (c *OnlineCache) Get(ctx context.Context) (map[string]struct{}, error) {
	var result map[string]struct{}

	err := c.locker.WithLock(ctx, onlineLockName, onlineLockTTL, func(ctx context.Context) error {
		stale, err := c.isStale(ctx)
		if err != nil {
			return err
		}

		if stale {
			if err := c.refresh(ctx); err != nil {
				return err
			}
		}

		names, err := c.rdb.SMembers(ctx, onlineSetKey).Result()
		if err != nil {
			return fmt.Errorf("nodeapi: reading online node set: %w", err)
		}

		result = make(map[string]struct{}, len(names))
		for _, n := range names {
			result[n] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Contains reports whether name is currently a cluster member, per Get().
func (c *OnlineCache) Contains(ctx context.Context, name string) (bool, error) {
	set, err := c.Get(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[name]
	return ok, nil
}

func (c *OnlineCache) isStale(ctx context.Context) (bool, error) {
	val, err := c.rdb.Get(ctx, onlineSetTimeKey).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("nodeapi: reading online set refresh time: %w", err)
	}

	lastRefresh, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return true, nil
	}
	return c.now().Sub(lastRefresh) > staleAfter, nil
}

func (c *OnlineCache) refresh(ctx context.Context) error {
	nodes, err := c.adapter.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("nodeapi: listing nodes for online cache: %w", err)
	}

	if err := c.rdb.Del(ctx, onlineSetKey).Err(); err != nil {
		return fmt.Errorf("nodeapi: clearing online node set: %w", err)
	}

	if len(nodes) > 0 {
		members := make([]interface{}, 0, len(nodes))
		for _, n := range nodes {
			members = append(members, n.Name)
		}
		if err := c.rdb.SAdd(ctx, onlineSetKey, members...).Err(); err != nil {
			return fmt.Errorf("nodeapi: populating online node set: %w", err)
		}
	}

	if err := c.rdb.Set(ctx, onlineSetTimeKey, c.now().UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("nodeapi: updating online set refresh time: %w", err)
	}
	return nil
}
