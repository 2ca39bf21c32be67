package audit

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogDropsWhenFull(t *testing.T) {
	w := NewWriter(nil, testLogger())
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{NodeName: "node-1", Action: "keepalive-timeout"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{NodeName: "node-1", Action: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLogEnqueuesEntry(t *testing.T) {
	w := NewWriter(nil, testLogger())

	w.Log(Entry{NodeName: "node-2", Action: "register", Detail: "first registration"})

	entry := <-w.entries
	if entry.NodeName != "node-2" {
		t.Errorf("NodeName = %q, want node-2", entry.NodeName)
	}
	if entry.Action != "register" {
		t.Errorf("Action = %q, want register", entry.Action)
	}
	if entry.Detail != "first registration" {
		t.Errorf("Detail = %q, want %q", entry.Detail, "first registration")
	}
}
