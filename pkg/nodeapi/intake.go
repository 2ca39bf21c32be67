// Package nodeapi implements the node-facing request surface: keepalive
// intake, shutdown intake, and the online-node cache that backs shutdown
// intake's membership check.
package nodeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciylabs/cluster-access-control/internal/telemetry"
	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/reaper"
	"github.com/ciylabs/cluster-access-control/pkg/workerpool"
)

// ErrNotRegistered mirrors stats.ErrNotRegistered for callers that only
// depend on this package.
var ErrNotRegistered = errors.New("nodeapi: node not registered or not online")

// Keepalive is the narrow slice of the keepalive store the intake consumes.
type Keepalive interface {
	Put(ctx context.Context, nodeKey string, ttl time.Duration) error
}

// Stats is the narrow slice of the statistics store the intake consumes.
type Stats interface {
	UpdateNode(ctx context.Context, name string, ts time.Time) (bool, error)
}

// EventLog records a node lifecycle event. A nil EventLog disables recording.
type EventLog interface {
	LogEvent(nodeName, action, detail string)
}

// Intake ingests keepalive pulses and shutdown requests from nodes.
type Intake struct {
	keepalive   Keepalive
	stats       Stats
	dedup       Dedup
	onlineCache *OnlineCache
	adapter     clusteradapter.Adapter
	pool        *workerpool.Pool
	logger      *slog.Logger
	nodeTimeout time.Duration
	now         func() time.Time
	events      EventLog
}

const secondsPerCheckIn = 10

// NewIntake creates an Intake.
func NewIntake(ka Keepalive, stats Stats, dedup Dedup, onlineCache *OnlineCache, adapter clusteradapter.Adapter, pool *workerpool.Pool, logger *slog.Logger, nodeTimeout time.Duration) *Intake {
	return &Intake{
		keepalive:   ka,
		stats:       stats,
		dedup:       dedup,
		onlineCache: onlineCache,
		adapter:     adapter,
		pool:        pool,
		logger:      logger,
		nodeTimeout: nodeTimeout,
		now:         time.Now,
	}
}

// SetEventLog attaches a lifecycle event recorder.
func (in *Intake) SetEventLog(events EventLog) {
	in.events = events
}

func (in *Intake) logEvent(node, action, detail string) {
	if in.events != nil {
		in.events.LogEvent(node, action, detail)
	}
}

// Keepalive records a liveness pulse for nodeID and, at most once per 10s
// bucket regardless of pulse count, records a statistics check-in.
func (in *Intake) Keepalive(ctx context.Context, nodeID string) error {
	if err := in.keepalive.Put(ctx, nodeID, in.nodeTimeout); err != nil {
		return fmt.Errorf("nodeapi: keepalive put: %w", err)
	}
	telemetry.KeepalivesReceivedTotal.Inc()

	claimed, err := testAndSetCheckIn(ctx, in.dedup, nodeID, 2*secondsPerCheckIn*time.Second)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if _, err := in.stats.UpdateNode(ctx, nodeID, in.now()); err != nil {
		return fmt.Errorf("nodeapi: recording check-in: %w", err)
	}
	telemetry.CheckInsRecordedTotal.Inc()
	return nil
}

// GracefulShutdown, if name is a current cluster member, schedules the
// graceful cordon-and-drain-and-delete path; otherwise reports
// ErrNotRegistered (surfaced as HTTP 404).
func (in *Intake) GracefulShutdown(ctx context.Context, name string) error {
	online, err := in.onlineCache.Contains(ctx, name)
	if err != nil {
		return fmt.Errorf("nodeapi: checking online cache: %w", err)
	}
	if !online {
		return ErrNotRegistered
	}

	in.logEvent(name, "graceful_shutdown_requested", "")
	in.pool.Submit("clean_up", name, func(ctx context.Context) error {
		if err := reaper.CleanUp(ctx, in.adapter, in.logger, name, true); err != nil {
			return err
		}
		in.logEvent(name, "cleaned_up", "ready=true")
		return nil
	})
	return nil
}
