// Package lock implements the distributed named-lock primitive used to
// serialize the reaper's per-tick critical section and the online-node
// cache refresh across control-plane replicas. It degenerates to a
// single-Redis Redlock: one SET NX PX to acquire, one Lua compare-and-delete
// to release, since this system treats a single Redis as the sole
// coordination point (no leader election, no multi-master Redis).
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder currently has the lock.
// Lock makes a single attempt and does not wait for the lock to be released.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the lock key only if its value still matches the
// token the caller acquired it with — prevents releasing a lock that a
// different holder now owns after TTL expiry.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const keyPrefix = "lock:"

// Locker is the narrow Redis command surface the lock service consumes.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Service grants named, TTL-bounded mutual exclusion over Redis.
type Service struct {
	rdb Locker
}

// New creates a lock Service backed by the given Redis client.
func New(rdb Locker) *Service {
	return &Service{rdb: rdb}
}

// Handle represents a held lock; Release must be called on every exit path.
type Handle struct {
	name  string
	token string
}

func tokenKey(name string) string {
	return keyPrefix + name
}

// Lock attempts to acquire the named lock once, returning ErrNotAcquired if
// another holder currently has it.
func (s *Service) Lock(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating lock token: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, tokenKey(name), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Handle{name: name, token: token}, nil
}

// Release frees the lock if, and only if, this handle still owns it.
func (s *Service) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := s.rdb.Eval(ctx, releaseScript, []string{tokenKey(h.name)}, h.token).Err(); err != nil {
		return fmt.Errorf("releasing lock %q: %w", h.name, err)
	}
	return nil
}

// WithLock runs fn while holding the named lock, releasing it on every exit
// path (including panic). Returns ErrNotAcquired if the lock is currently
// held elsewhere.
func (s *Service) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	h, err := s.Lock(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Release(releaseCtx, h)
	}()

	return fn(ctx)
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
