// Package audit implements an async, buffered writer for node lifecycle
// events (register, keepalive-timeout, cordon, drain, taint, delete,
// uncordon) — a record of what the core did to a node and when, independent
// of the structured log stream.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a single node lifecycle event to be written.
type Entry struct {
	NodeName string
	Action   string
	Detail   string
}

// Writer is an async, buffered lifecycle event writer. Entries are sent to
// an internal channel and flushed by a background goroutine.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes entries to the database
// and returns immediately. The goroutine exits when the context is cancelled
// (after flushing what is buffered) or when Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues a lifecycle event for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning is logged.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"node", entry.NodeName, "action", entry.Action)
	}
}

// LogEvent is a convenience wrapper around Log satisfying the narrow
// EventLog interfaces the reaper and schedulability controller consume.
func (w *Writer) LogEvent(nodeName, action, detail string) {
	w.Log(Entry{NodeName: nodeName, Action: action, Detail: detail})
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database over one connection, one
// INSERT per entry.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("acquiring connection for audit flush", "error", err)
		return
	}
	defer conn.Release()

	for _, e := range entries {
		if _, err := conn.Exec(ctx,
			`INSERT INTO node_lifecycle_events (node_name, action, detail) VALUES ($1, $2, $3)`,
			e.NodeName, e.Action, e.Detail,
		); err != nil {
			w.logger.Error("writing lifecycle event", "error", err, "node", e.NodeName, "action", e.Action)
		}
	}
}
