package eventlog

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// streams are capped; moderation events are also persisted relationally,
	// so the stream only needs to cover worker lag plus a safety margin
	redisStreamMaxLen = 1_000_000
	redisCursorPrefix = "guardrail:cursor/"
	redisCursorTTL    = 14 * 24 * time.Hour
)

type RedisLog struct {
	Client *redis.Client
}

func NewRedisLog(redisURL string) (*RedisLog, error) {
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
	return &RedisLog{Client: rdb}, nil
}

var _ EventLog = (*RedisLog)(nil)

func (l *RedisLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return l.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
}

func (l *RedisLog) Read(ctx context.Context, stream, cursor string, batch int, block time.Duration) ([]Entry, error) {
	if cursor == "" {
		cursor = CursorStart
	}
	res, err := l.Client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   int64(batch),
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var out []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			fields := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				if sv, ok := v.(string); ok {
					fields[k] = sv
				}
			}
			out = append(out, Entry{ID: m.ID, Fields: fields})
		}
	}
	return out, nil
}

// RedisCursorStore persists worker cursors as plain keys with a TTL, the
// same shape as a firehose consumer's sequence checkpoint.
type RedisCursorStore struct {
	Client *redis.Client
}

var _ CursorStore = (*RedisCursorStore)(nil)

func (s *RedisCursorStore) GetCursor(ctx context.Context, worker string) (string, error) {
	val, err := s.Client.Get(ctx, redisCursorPrefix+worker).Result()
	if err == redis.Nil {
		return CursorStart, nil
	} else if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCursorStore) SetCursor(ctx context.Context, worker, cursor string) error {
	return s.Client.Set(ctx, redisCursorPrefix+worker, cursor, redisCursorTTL).Err()
}
