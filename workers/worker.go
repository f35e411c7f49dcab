// Package workers runs the async consumers behind the enforcement pipeline.
// Each worker owns one stream and one cursor: entries are handled in order,
// the cursor advances only after a batch is fully processed, and an entry that
// fails or panics is routed to the dead-letter stream instead of wedging the
// loop.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haven-social/guardrail/eventlog"
)

type HandlerFunc func(ctx context.Context, entry eventlog.Entry) error

const (
	defaultBatch = 50
	defaultBlock = 5 * time.Second
)

type Worker struct {
	Name   string
	Stream string
	Batch  int
	Block  time.Duration

	log     eventlog.EventLog
	cursors eventlog.CursorStore
	handler HandlerFunc
	logger  *slog.Logger
}

func New(name, stream string, log eventlog.EventLog, cursors eventlog.CursorStore, handler HandlerFunc, logger *slog.Logger) *Worker {
	return &Worker{
		Name:    name,
		Stream:  stream,
		Batch:   defaultBatch,
		Block:   defaultBlock,
		log:     log,
		cursors: cursors,
		handler: handler,
		logger:  logger.With("system", "workers", "worker", name),
	}
}

// Run consumes the stream until ctx is canceled. Crash recovery is re-read:
// at-least-once delivery of the last un-checkpointed batch, so handlers must
// be idempotent or safely repeatable.
func (w *Worker) Run(ctx context.Context) error {
	cursor, err := w.cursors.GetCursor(ctx, w.Name)
	if err != nil {
		return fmt.Errorf("loading cursor for %s: %w", w.Name, err)
	}
	w.logger.Info("worker starting", "stream", w.Stream, "cursor", cursor)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entries, err := w.log.Read(ctx, w.Stream, cursor, w.Batch, w.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("stream read failed", "err", err)
			workerReadFailures.WithLabelValues(w.Name).Inc()
			time.Sleep(time.Second)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		for _, entry := range entries {
			if err := w.handleOne(ctx, entry); err != nil {
				workerEntries.WithLabelValues(w.Name, "error").Inc()
				w.deadLetter(ctx, entry, err)
			} else {
				workerEntries.WithLabelValues(w.Name, "ok").Inc()
			}
		}

		cursor = entries[len(entries)-1].ID
		if err := w.cursors.SetCursor(ctx, w.Name, cursor); err != nil {
			w.logger.Error("cursor persist failed", "err", err, "cursor", cursor)
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, entry eventlog.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return w.handler(ctx, entry)
}

// deadLetter parks a failed entry for the actions worker (or an operator) to
// inspect and re-drive. Failures on the dead-letter stream itself are only
// logged; re-appending them would loop.
func (w *Worker) deadLetter(ctx context.Context, entry eventlog.Entry, cause error) {
	w.logger.Error("entry failed", "err", cause, "entryID", entry.ID, "stream", w.Stream)
	if w.Stream == eventlog.StreamDeadLetter {
		return
	}
	fields := make(map[string]string, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		fields[k] = v
	}
	fields["origin_stream"] = w.Stream
	fields["origin_id"] = entry.ID
	fields["error"] = cause.Error()
	if _, err := w.log.Append(ctx, eventlog.StreamDeadLetter, fields); err != nil {
		w.logger.Error("dead-letter append failed", "err", err, "entryID", entry.ID)
	}
	deadLettered.WithLabelValues(w.Name).Inc()
}

// Manager runs a set of workers as one unit and waits for all of them on
// shutdown.
type Manager struct {
	workers []*Worker
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("system", "workers")}
}

func (m *Manager) Add(w *Worker) {
	m.workers = append(m.workers, w)
}

// Run blocks until ctx is canceled and every worker has returned.
func (m *Manager) Run(ctx context.Context) {
	done := make(chan string, len(m.workers))
	for _, w := range m.workers {
		w := w
		go func() {
			err := w.Run(ctx)
			if err != nil && ctx.Err() == nil {
				m.logger.Error("worker exited", "worker", w.Name, "err", err)
			}
			done <- w.Name
		}()
	}
	for range m.workers {
		name := <-done
		m.logger.Info("worker stopped", "worker", name)
	}
}
