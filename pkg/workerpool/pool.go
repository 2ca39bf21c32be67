// Package workerpool provides the shared, unbounded-concurrency pool that
// cluster-mutation submissions (cordon_and_drain, uncordon_and_untaint,
// clean_up) run through. One in-flight action per node is natural given the
// caller's own dedup (grace_set, schedulability state) but is not enforced
// by the pool itself.
package workerpool

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// Pool submits node-mutation tasks for concurrent, panic-safe execution.
// A panic inside a submitted task is recovered and logged, never
// propagated — cluster mutation errors are logged and swallowed, the
// loop that submitted them never terminates.
type Pool struct {
	logger *slog.Logger
	p      *pool.ContextPool
}

// New creates a Pool bound to ctx. Tasks receive a context that is cancelled
// when ctx is; Submit still starts every task it is given.
func New(ctx context.Context, logger *slog.Logger) *Pool {
	return &Pool{
		logger: logger,
		p:      pool.New().WithContext(ctx),
	}
}

// Submit schedules fn to run concurrently. Errors returned by fn are logged
// with the given label and node name; they do not propagate to other
// submissions or to the caller.
func (p *Pool) Submit(label, node string, fn func(ctx context.Context) error) {
	p.p.Go(func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker pool task panicked", "action", label, "node", node, "panic", r)
			}
		}()
		if err := fn(ctx); err != nil {
			p.logger.Error("worker pool task failed", "action", label, "node", node, "error", err)
		}
		return nil
	})
}

// Wait blocks until all currently-submitted tasks complete. Background loops
// that run forever never call this; it exists for graceful shutdown and tests.
func (p *Pool) Wait() {
	_ = p.p.Wait()
}
