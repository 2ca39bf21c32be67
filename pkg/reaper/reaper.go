// Package reaper implements the stale-node reaper: a periodic loop that
// detects nodes missing a keepalive beyond a two-tick grace period and
// cleans them up — cordon-and-drain for a graceful loss, taint-and-delete
// for an ungraceful one.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciylabs/cluster-access-control/internal/telemetry"
	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/workerpool"
)

const cleanupLockName = "cleanup"
const cleanupLockTTL = 2 * time.Second

// Keepalive is the narrow slice of the keepalive store the reaper consumes.
type Keepalive interface {
	Exists(ctx context.Context, nodeKey string) (bool, error)
}

// Disconnects is the narrow slice of the statistics store the reaper consumes.
type Disconnects interface {
	IncrementAbruptDisconnect(ctx context.Context, name string) (bool, error)
}

// Locker is the narrow slice of the lock service the reaper consumes.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// EventLog records a node lifecycle event. A nil EventLog disables recording.
type EventLog interface {
	LogEvent(nodeName, action, detail string)
}

// Reaper runs the stale-node eviction loop.
type Reaper struct {
	adapter     clusteradapter.Adapter
	keepalive   Keepalive
	disconnects Disconnects
	locker      Locker
	pool        *workerpool.Pool
	logger      *slog.Logger
	tick        time.Duration
	events      EventLog

	// graceSet is replica-local: a node must be observed silent in two
	// consecutive ticks before it is reaped. It is deliberately not shared
	// across replicas — convergence happens because whichever replica
	// observes two consecutive silent ticks first acquires the cleanup
	// lock and deletes the node; subsequent replicas then find it gone.
	graceSet map[string]struct{}
}

// New creates a Reaper. tick is the loop period, normally NODE_TIMEOUT.
func New(adapter clusteradapter.Adapter, ka Keepalive, disc Disconnects, locker Locker, pool *workerpool.Pool, logger *slog.Logger, tick time.Duration) *Reaper {
	return &Reaper{
		adapter:     adapter,
		keepalive:   ka,
		disconnects: disc,
		locker:      locker,
		pool:        pool,
		logger:      logger,
		tick:        tick,
		graceSet:    make(map[string]struct{}),
	}
}

// SetEventLog attaches a lifecycle event recorder. Call before Run.
func (r *Reaper) SetEventLog(events EventLog) {
	r.events = events
}

func (r *Reaper) logEvent(node, action, detail string) {
	if r.events != nil {
		r.events.LogEvent(node, action, detail)
	}
}

// Run blocks, ticking every r.tick until ctx is cancelled. Errors are
// logged and swallowed; the loop never terminates on error.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			r.runTick(ctx)
		}
	}
}

func (r *Reaper) runTick(ctx context.Context) {
	err := r.locker.WithLock(ctx, cleanupLockName, cleanupLockTTL, func(ctx context.Context) error {
		return r.reapOnce(ctx)
	})
	if err != nil {
		r.logger.Debug("reaper tick skipped", "error", err)
	}
}

func (r *Reaper) reapOnce(ctx context.Context) error {
	nodes, err := r.adapter.ListNodes(ctx)
	if err != nil {
		r.logger.Error("reaper: listing nodes", "error", err)
		return nil
	}

	for _, n := range nodes {
		if n.Persistent() {
			continue
		}
		r.evaluateNode(ctx, n)
	}
	return nil
}

func (r *Reaper) evaluateNode(ctx context.Context, n clusteradapter.Node) {
	alive, err := r.keepalive.Exists(ctx, n.Name)
	if err != nil {
		r.logger.Error("reaper: checking keepalive", "node", n.Name, "error", err)
		return
	}

	if alive {
		delete(r.graceSet, n.Name)
		return
	}

	if _, inGrace := r.graceSet[n.Name]; !inGrace {
		r.graceSet[n.Name] = struct{}{}
		return
	}

	// Confirmed stale: silent for two consecutive ticks.
	delete(r.graceSet, n.Name)

	if _, err := r.disconnects.IncrementAbruptDisconnect(ctx, n.Name); err != nil {
		r.logger.Error("reaper: incrementing abrupt disconnect", "node", n.Name, "error", err)
	}

	ready := n.Ready
	name := n.Name
	r.logEvent(name, "stale_node_detected", fmt.Sprintf("ready=%t", ready))
	r.pool.Submit("clean_up", name, func(ctx context.Context) error {
		if err := CleanUp(ctx, r.adapter, r.logger, name, ready); err != nil {
			return err
		}
		r.logEvent(name, "cleaned_up", fmt.Sprintf("ready=%t", ready))
		telemetry.StaleNodesReapedTotal.WithLabelValues(reapKind(ready)).Inc()
		return nil
	})
}

func reapKind(graceful bool) string {
	if graceful {
		return "graceful"
	}
	return "ungraceful"
}

// CleanUp implements the graceful/ungraceful node removal path shared by the
// reaper (on confirmed staleness) and shutdown intake (C10, on a voluntary
// graceful-shutdown request).
func CleanUp(ctx context.Context, adapter clusteradapter.Adapter, logger *slog.Logger, name string, ready bool) error {
	if ready {
		if err := CordonAndDrain(ctx, adapter, logger, name); err != nil {
			return err
		}
	} else {
		taint := clusteradapter.Taint{
			Key:    clusteradapter.NoExecuteTaintKey,
			Value:  clusteradapter.NoExecuteTaintValue,
			Effect: clusteradapter.NoExecuteTaintEffect,
		}
		if err := adapter.PatchTaints(ctx, name, []clusteradapter.Taint{taint}); err != nil {
			return err
		}
	}

	return adapter.DeleteNode(ctx, name)
}

// CordonAndDrain marks a node unschedulable and evicts its non-DaemonSet pods.
func CordonAndDrain(ctx context.Context, adapter clusteradapter.Adapter, logger *slog.Logger, name string) error {
	if err := adapter.PatchUnschedulable(ctx, name, true); err != nil {
		return err
	}

	pods, err := adapter.ListPodsOnNode(ctx, name)
	if err != nil {
		return err
	}

	for _, p := range pods {
		if p.OwnedByDaemonSet {
			continue
		}
		if err := adapter.EvictPod(ctx, p.Namespace, p.Name); err != nil {
			logger.Error("reaper: evicting pod", "node", name, "pod", p.Name, "error", err)
		}
	}
	return nil
}
