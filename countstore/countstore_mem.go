package countstore

import (
	"context"
	"sync"
	"time"
)

type memCounter struct {
	count     int
	expiresAt time.Time
}

type memDistinct struct {
	vals      map[string]bool
	expiresAt time.Time
}

// MemCountStore is a process-local CountStore, safe for concurrent use.
// Expired buckets are dropped lazily on access.
type MemCountStore struct {
	lk       sync.Mutex
	counts   map[string]*memCounter
	distinct map[string]*memDistinct
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts:   make(map[string]*memCounter),
		distinct: make(map[string]*memDistinct),
	}
}

var _ CountStore = (*MemCountStore)(nil)

func (s *MemCountStore) Increment(ctx context.Context, kind, subject string, window Window) (int, error) {
	now := time.Now()
	k := bucketKey(kind, subject, window, now)
	s.lk.Lock()
	defer s.lk.Unlock()
	c, ok := s.counts[k]
	if !ok || now.After(c.expiresAt) {
		c = &memCounter{}
		s.counts[k] = c
	}
	c.count++
	c.expiresAt = now.Add(bucketTTL(window))
	return c.count, nil
}

func (s *MemCountStore) GetCount(ctx context.Context, kind, subject string, window Window) (int, error) {
	now := time.Now()
	k := bucketKey(kind, subject, window, now)
	s.lk.Lock()
	defer s.lk.Unlock()
	c, ok := s.counts[k]
	if !ok {
		return 0, nil
	}
	if now.After(c.expiresAt) {
		delete(s.counts, k)
		return 0, nil
	}
	return c.count, nil
}

func (s *MemCountStore) IncrementDistinct(ctx context.Context, kind, subject, val string, window Window) error {
	now := time.Now()
	k := bucketKey(kind, subject, window, now)
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.distinct[k]
	if !ok || now.After(d.expiresAt) {
		d = &memDistinct{vals: make(map[string]bool)}
		s.distinct[k] = d
	}
	d.vals[val] = true
	d.expiresAt = now.Add(bucketTTL(window))
	return nil
}

func (s *MemCountStore) GetCountDistinct(ctx context.Context, kind, subject string, window Window) (int, error) {
	now := time.Now()
	k := bucketKey(kind, subject, window, now)
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.distinct[k]
	if !ok {
		return 0, nil
	}
	if now.After(d.expiresAt) {
		delete(s.distinct, k)
		return 0, nil
	}
	return len(d.vals), nil
}
