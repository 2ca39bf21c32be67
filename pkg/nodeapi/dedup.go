package nodeapi

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "node-checkin-dedup-"

// Dedup is the narrow Redis command surface the check-in dedup test-and-set
// consumes.
type Dedup interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
}

// testAndSetCheckIn atomically claims the check-in dedup key for nodeID; it
// returns true exactly once per window, suppressing repeated statistics
// increments for duplicate keepalive pulses within the same bucket. The
// SETNX-with-TTL call is a single round trip, making the test-and-set atomic.
func testAndSetCheckIn(ctx context.Context, rdb Dedup, nodeID string, ttl time.Duration) (bool, error) {
	key := dedupKeyPrefix + nodeID
	ok, err := rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nodeapi: check-in dedup test-and-set: %w", err)
	}
	return ok, nil
}
