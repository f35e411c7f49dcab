package cachestore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memEntry struct {
	val       string
	expiresAt time.Time
}

// MemCacheStore is an LRU-bounded process-local cache. Entries carry their
// own deadline so callers can mirror a restriction's TTL exactly.
type MemCacheStore struct {
	data       *lru.Cache[string, memEntry]
	defaultTTL time.Duration
}

func NewMemCacheStore(capacity int, defaultTTL time.Duration) *MemCacheStore {
	c, _ := lru.New[string, memEntry](capacity)
	return &MemCacheStore{data: c, defaultTTL: defaultTTL}
}

var _ CacheStore = (*MemCacheStore)(nil)

func (s *MemCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	e, ok := s.data.Get(name + "/" + key)
	if !ok {
		return "", nil
	}
	if time.Now().After(e.expiresAt) {
		s.data.Remove(name + "/" + key)
		return "", nil
	}
	return e.val, nil
}

func (s *MemCacheStore) Set(ctx context.Context, name, key, val string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.data.Add(name+"/"+key, memEntry{val: val, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (s *MemCacheStore) Purge(ctx context.Context, name, key string) error {
	s.data.Remove(name + "/" + key)
	return nil
}
