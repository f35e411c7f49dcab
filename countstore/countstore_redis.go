package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisCountPrefix    = "count/"
	redisDistinctPrefix = "distinct/"
)

type RedisCountStore struct {
	Client *redis.Client
}

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisCountStore{Client: rdb}, nil
}

var _ CountStore = (*RedisCountStore)(nil)

// Increment runs INCR and EXPIRE in a single MULTI/EXEC round-trip, so the
// counter and its TTL can never diverge, and returns the post-increment count.
func (s *RedisCountStore) Increment(ctx context.Context, kind, subject string, window Window) (int, error) {
	key := redisCountPrefix + bucketKey(kind, subject, window, time.Now())
	pipe := s.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, bucketTTL(window))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisCountStore) GetCount(ctx context.Context, kind, subject string, window Window) (int, error) {
	key := redisCountPrefix + bucketKey(kind, subject, window, time.Now())
	c, err := s.Client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, kind, subject, val string, window Window) error {
	key := redisDistinctPrefix + bucketKey(kind, subject, window, time.Now())
	pipe := s.Client.TxPipeline()
	pipe.PFAdd(ctx, key, val)
	pipe.Expire(ctx, key, bucketTTL(window))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, kind, subject string, window Window) (int, error) {
	key := redisDistinctPrefix + bucketKey(kind, subject, window, time.Now())
	c, err := s.Client.PFCount(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}
