// Package eventlog is a thin append-only event stream abstraction with
// explicit consumer cursors. Workers poll a stream with a blocking read and
// advance their cursor only after a batch is fully processed, so a crashed
// worker re-reads (and must tolerate re-processing) its last batch.
package eventlog

import (
	"context"
	"time"
)

// Stream names used across the subsystem.
const (
	StreamIngress     = "guardrail:ingress"
	StreamReports     = "guardrail:reports"
	StreamDecisions   = "guardrail:decisions"
	StreamEscalations = "guardrail:escalations"
	StreamAppeals     = "guardrail:appeals"
	// entries that failed decoding or processing land here for re-drive
	StreamDeadLetter = "guardrail:actions-deadletter"
)

// CursorStart reads a stream from its beginning.
const CursorStart = "0"

type Entry struct {
	ID     string
	Fields map[string]string
}

type EventLog interface {
	// Append adds an entry and returns its ID. IDs are strictly increasing
	// per stream.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	// Read returns up to batch entries after cursor, blocking up to block
	// when the stream is empty. An empty result after the timeout is not an
	// error.
	Read(ctx context.Context, stream, cursor string, batch int, block time.Duration) ([]Entry, error)
}

// CursorStore persists per-worker stream cursors.
type CursorStore interface {
	GetCursor(ctx context.Context, worker string) (string, error)
	SetCursor(ctx context.Context, worker, cursor string) error
}
