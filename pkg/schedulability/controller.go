// Package schedulability implements the schedulability controller: a
// periodic loop that queries the survival estimator for every non-persistent
// node and cordons nodes predicted to fail soon, uncordoning those that
// have recovered.
package schedulability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciylabs/cluster-access-control/internal/telemetry"
	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/workerpool"
)

// lowSurvivalThreshold is the cordon trigger: a node whose estimated
// survival probability is at or below this value is cordoned and drained.
const lowSurvivalThreshold = 0.25

// Estimator is the narrow slice of the survival estimator the controller consumes.
type Estimator interface {
	Survival(ctx context.Context, name string, timeRangeMinutes int) (float64, error)
}

// EventLog records a node lifecycle event. A nil EventLog disables recording.
type EventLog interface {
	LogEvent(nodeName, action, detail string)
}

// Controller runs the cordon/uncordon reconciliation loop.
type Controller struct {
	adapter              clusteradapter.Adapter
	estimator            Estimator
	pool                 *workerpool.Pool
	logger               *slog.Logger
	tick                 time.Duration
	minimalSurvivability int
	events               EventLog
}

// New creates a Controller. tick is the loop period (NODE_TIMEOUT);
// minimalSurvivabilityMinutes is the forward window passed to the estimator
// (NODE_MINIMAL_SURVIVABILITY, default 3 minutes).
func New(adapter clusteradapter.Adapter, estimator Estimator, pool *workerpool.Pool, logger *slog.Logger, tick time.Duration, minimalSurvivabilityMinutes int) *Controller {
	return &Controller{
		adapter:              adapter,
		estimator:            estimator,
		pool:                 pool,
		logger:               logger,
		tick:                 tick,
		minimalSurvivability: minimalSurvivabilityMinutes,
	}
}

// SetEventLog attaches a lifecycle event recorder. Call before Run.
func (c *Controller) SetEventLog(events EventLog) {
	c.events = events
}

func (c *Controller) logEvent(node, action, detail string) {
	if c.events != nil {
		c.events.LogEvent(node, action, detail)
	}
}

// Run blocks, ticking every c.tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("schedulability controller stopping")
			return
		case <-ticker.C:
			c.runTick(ctx)
		}
	}
}

func (c *Controller) runTick(ctx context.Context) {
	nodes, err := c.adapter.ListNodes(ctx)
	if err != nil {
		c.logger.Error("schedulability: listing nodes", "error", err)
		return
	}

	for _, n := range nodes {
		if n.Persistent() {
			continue
		}
		c.evaluateNode(ctx, n)
	}
}

func (c *Controller) evaluateNode(ctx context.Context, n clusteradapter.Node) {
	p, err := c.estimator.Survival(ctx, n.Name, c.minimalSurvivability)
	if err != nil {
		c.logger.Error("schedulability: survival estimate failed", "node", n.Name, "error", err)
		return
	}

	telemetry.SurvivalProbability.Observe(p)

	name := n.Name
	switch {
	case p <= lowSurvivalThreshold:
		c.pool.Submit("cordon_and_drain", name, func(ctx context.Context) error {
			if err := c.cordonAndDrain(ctx, name); err != nil {
				return err
			}
			c.logEvent(name, "cordoned", fmt.Sprintf("survival_probability=%.3f", p))
			telemetry.SchedulabilityActionsTotal.WithLabelValues("cordon").Inc()
			return nil
		})
	case n.Unschedulable:
		c.pool.Submit("uncordon_and_untaint", name, func(ctx context.Context) error {
			if err := c.uncordonAndUntaint(ctx, name); err != nil {
				return err
			}
			c.logEvent(name, "uncordoned", fmt.Sprintf("survival_probability=%.3f", p))
			telemetry.SchedulabilityActionsTotal.WithLabelValues("uncordon").Inc()
			return nil
		})
	}
}

func (c *Controller) cordonAndDrain(ctx context.Context, name string) error {
	if err := c.adapter.PatchUnschedulable(ctx, name, true); err != nil {
		return err
	}

	pods, err := c.adapter.ListPodsOnNode(ctx, name)
	if err != nil {
		return err
	}
	for _, p := range pods {
		if p.OwnedByDaemonSet {
			continue
		}
		if err := c.adapter.EvictPod(ctx, p.Namespace, p.Name); err != nil {
			c.logger.Error("schedulability: evicting pod", "node", name, "pod", p.Name, "error", err)
		}
	}
	return nil
}

func (c *Controller) uncordonAndUntaint(ctx context.Context, name string) error {
	if err := c.adapter.PatchUnschedulable(ctx, name, false); err != nil {
		return err
	}
	return c.adapter.PatchTaints(ctx, name, nil)
}
