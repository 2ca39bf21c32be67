// Package keepalive implements the short-TTL liveness store: a thin wrapper
// over Redis string keys recording the last time each node pulsed.
package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "keepalive:"

// KV is the narrow slice of the Redis command surface the keepalive store
// consumes. Satisfied by *redis.Client in production and by a small
// in-memory fake in tests.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store records per-node liveness keys with an expiring TTL.
type Store struct {
	rdb KV
}

// New creates a keepalive Store backed by the given Redis client.
func New(rdb KV) *Store {
	return &Store{rdb: rdb}
}

func key(nodeKey string) string {
	return keyPrefix + nodeKey
}

// Put records a keepalive for nodeKey, overwriting any existing value and
// resetting the TTL. Last writer wins; there is no ordering guarantee across
// concurrent puts to the same key.
func (s *Store) Put(ctx context.Context, nodeKey string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key(nodeKey), time.Now().UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("keepalive put %q: %w", nodeKey, err)
	}
	return nil
}

// Exists reports whether a recent keepalive is on file for nodeKey.
func (s *Store) Exists(ctx context.Context, nodeKey string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(nodeKey)).Result()
	if err != nil {
		return false, fmt.Errorf("keepalive exists %q: %w", nodeKey, err)
	}
	return n > 0, nil
}
