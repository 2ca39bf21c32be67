package schedulability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/workerpool"
)

type fakeAdapter struct {
	mu            sync.Mutex
	nodes         []clusteradapter.Node
	unschedulable map[string]bool
	taints        map[string][]clusteradapter.Taint
}

func (f *fakeAdapter) ListNodes(ctx context.Context) ([]clusteradapter.Node, error) {
	return f.nodes, nil
}
func (f *fakeAdapter) PatchUnschedulable(ctx context.Context, name string, unschedulable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unschedulable == nil {
		f.unschedulable = map[string]bool{}
	}
	f.unschedulable[name] = unschedulable
	return nil
}
func (f *fakeAdapter) PatchTaints(ctx context.Context, name string, taints []clusteradapter.Taint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taints == nil {
		f.taints = map[string][]clusteradapter.Taint{}
	}
	f.taints[name] = taints
	return nil
}
func (f *fakeAdapter) ListPodsOnNode(ctx context.Context, name string) ([]clusteradapter.Pod, error) {
	return nil, nil
}
func (f *fakeAdapter) EvictPod(ctx context.Context, namespace, name string) error { return nil }
func (f *fakeAdapter) DeleteNode(ctx context.Context, name string) error         { return nil }
func (f *fakeAdapter) GetKubeconfigFile(ctx context.Context) ([]byte, error)     { return nil, nil }

type fakeEstimator struct {
	byNode map[string]float64
	errs   map[string]error
}

func (f *fakeEstimator) Survival(ctx context.Context, name string, minutes int) (float64, error) {
	if err, ok := f.errs[name]; ok {
		return 0, err
	}
	return f.byNode[name], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestControllerCordonsLowSurvivalNode(t *testing.T) {
	adapter := &fakeAdapter{nodes: []clusteradapter.Node{{Name: "eps"}}}
	estimator := &fakeEstimator{byNode: map[string]float64{"eps": 0}}
	pool := workerpool.New(context.Background(), testLogger())

	c := New(adapter, estimator, pool, testLogger(), 0, 3)
	c.runTick(context.Background())
	pool.Wait()

	if !adapter.unschedulable["eps"] {
		t.Errorf("expected eps to be cordoned")
	}
}

func TestControllerUncordonsRecoveredNode(t *testing.T) {
	adapter := &fakeAdapter{nodes: []clusteradapter.Node{{Name: "zeta", Unschedulable: true}}}
	estimator := &fakeEstimator{byNode: map[string]float64{"zeta": 0.9}}
	pool := workerpool.New(context.Background(), testLogger())

	c := New(adapter, estimator, pool, testLogger(), 0, 3)
	c.runTick(context.Background())
	pool.Wait()

	if adapter.unschedulable["zeta"] {
		t.Errorf("expected zeta to be uncordoned")
	}
	if adapter.taints["zeta"] != nil {
		t.Errorf("expected zeta taints cleared, got %v", adapter.taints["zeta"])
	}
}

func TestControllerLeavesHealthyScheduledNodeAlone(t *testing.T) {
	adapter := &fakeAdapter{nodes: []clusteradapter.Node{{Name: "ok", Unschedulable: false}}}
	estimator := &fakeEstimator{byNode: map[string]float64{"ok": 0.9}}
	pool := workerpool.New(context.Background(), testLogger())

	c := New(adapter, estimator, pool, testLogger(), 0, 3)
	c.runTick(context.Background())
	pool.Wait()

	if _, touched := adapter.unschedulable["ok"]; touched {
		t.Errorf("healthy already-schedulable node should not be patched")
	}
}

func TestControllerSkipsNodeOnEstimatorError(t *testing.T) {
	adapter := &fakeAdapter{nodes: []clusteradapter.Node{{Name: "bad"}, {Name: "eps"}}}
	estimator := &fakeEstimator{
		byNode: map[string]float64{"eps": 0},
		errs:   map[string]error{"bad": errors.New("data corruption")},
	}
	pool := workerpool.New(context.Background(), testLogger())

	c := New(adapter, estimator, pool, testLogger(), 0, 3)
	c.runTick(context.Background())
	pool.Wait()

	if _, touched := adapter.unschedulable["bad"]; touched {
		t.Errorf("node with estimator error should not be patched")
	}
	if !adapter.unschedulable["eps"] {
		t.Errorf("other nodes should still be processed after one estimator error")
	}
}
