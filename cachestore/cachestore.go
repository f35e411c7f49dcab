package cachestore

import (
	"context"
	"time"
)

// CacheStore is a small namespaced string cache with per-entry TTL. A zero
// TTL falls back to the store's default. Get returns the empty string on miss.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key, val string, ttl time.Duration) error
	Purge(ctx context.Context, name, key string) error
}
