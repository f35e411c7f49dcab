package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemLog is a process-local EventLog for tests and single-node development.
type MemLog struct {
	lk      sync.Mutex
	streams map[string][]Entry
	seq     map[string]int64
}

func NewMemLog() *MemLog {
	return &MemLog{
		streams: make(map[string][]Entry),
		seq:     make(map[string]int64),
	}
}

var _ EventLog = (*MemLog)(nil)

func (l *MemLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.seq[stream]++
	id := fmt.Sprintf("%d-0", l.seq[stream])
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	l.streams[stream] = append(l.streams[stream], Entry{ID: id, Fields: cp})
	return id, nil
}

func (l *MemLog) Read(ctx context.Context, stream, cursor string, batch int, block time.Duration) ([]Entry, error) {
	deadline := time.Now().Add(block)
	for {
		entries := l.readAfter(stream, cursor, batch)
		if len(entries) > 0 {
			return entries, nil
		}
		if block <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *MemLog) readAfter(stream, cursor string, batch int) []Entry {
	l.lk.Lock()
	defer l.lk.Unlock()
	after := parseSeq(cursor)
	var out []Entry
	for _, e := range l.streams[stream] {
		if parseSeq(e.ID) > after {
			out = append(out, e)
			if len(out) >= batch {
				break
			}
		}
	}
	return out
}

func parseSeq(id string) int64 {
	if id == CursorStart || id == "" {
		return 0
	}
	head, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseInt(head, 10, 64)
	return n
}

// MemCursorStore keeps cursors in memory.
type MemCursorStore struct {
	lk      sync.Mutex
	cursors map[string]string
}

func NewMemCursorStore() *MemCursorStore {
	return &MemCursorStore{cursors: make(map[string]string)}
}

var _ CursorStore = (*MemCursorStore)(nil)

func (s *MemCursorStore) GetCursor(ctx context.Context, worker string) (string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	c, ok := s.cursors[worker]
	if !ok {
		return CursorStart, nil
	}
	return c, nil
}

func (s *MemCursorStore) SetCursor(ctx context.Context, worker, cursor string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.cursors[worker] = cursor
	return nil
}
