package nodeapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
)

type fakeSetKV struct {
	mu      sync.Mutex
	members map[string]struct{}
	refresh string
}

func newFakeSetKV() *fakeSetKV {
	return &fakeSetKV{members: map[string]struct{}{}}
}

func (f *fakeSetKV) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		f.members[m.(string)] = struct{}{}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeSetKV) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.members))
	for m := range f.members {
		names = append(names, m)
	}
	cmd := redis.NewStringSliceCmd(ctx)
	cmd.SetVal(names)
	return cmd
}

func (f *fakeSetKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = map[string]struct{}{}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeSetKV) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.refresh == "" {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(f.refresh)
	return cmd
}

func (f *fakeSetKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = value.(string)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

type fakeClusterLister struct {
	nodes []clusteradapter.Node
}

func (f *fakeClusterLister) ListNodes(ctx context.Context) ([]clusteradapter.Node, error) {
	return f.nodes, nil
}
func (f *fakeClusterLister) PatchUnschedulable(ctx context.Context, name string, unschedulable bool) error {
	return nil
}
func (f *fakeClusterLister) PatchTaints(ctx context.Context, name string, taints []clusteradapter.Taint) error {
	return nil
}
func (f *fakeClusterLister) ListPodsOnNode(ctx context.Context, name string) ([]clusteradapter.Pod, error) {
	return nil, nil
}
func (f *fakeClusterLister) EvictPod(ctx context.Context, namespace, name string) error { return nil }
func (f *fakeClusterLister) DeleteNode(ctx context.Context, name string) error          { return nil }
func (f *fakeClusterLister) GetKubeconfigFile(ctx context.Context) ([]byte, error)      { return nil, nil }

type passthroughLocker struct{}

func (passthroughLocker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestOnlineCacheRefreshesWhenStale(t *testing.T) {
	adapter := &fakeClusterLister{nodes: []clusteradapter.Node{{Name: "alpha"}, {Name: "beta"}}}
	rdb := newFakeSetKV()
	cache := NewOnlineCache(adapter, rdb, passthroughLocker{})

	ok, err := cache.Contains(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Errorf("Contains(alpha) = false, want true after refresh")
	}

	ok, err = cache.Contains(context.Background(), "gamma")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Errorf("Contains(gamma) = true, want false")
	}
}

func TestOnlineCacheServesFromCacheWithinTTL(t *testing.T) {
	adapter := &fakeClusterLister{nodes: []clusteradapter.Node{{Name: "alpha"}}}
	rdb := newFakeSetKV()
	fixedNow := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	cache := NewOnlineCache(adapter, rdb, passthroughLocker{})
	cache.now = func() time.Time { return fixedNow }

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("first Get: %v", err)
	}

	adapter.nodes = append(adapter.nodes, clusteradapter.Node{Name: "beta"})
	cache.now = func() time.Time { return fixedNow.Add(time.Second) }

	set, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if _, ok := set["beta"]; ok {
		t.Errorf("cache served fresh adapter data within TTL window")
	}
}
