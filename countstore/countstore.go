package countstore

import (
	"context"
	"fmt"
	"time"
)

// Window selects the fixed time bucket a counter lives in. Buckets are
// aligned to the UTC wall clock, so two increments in the same second/minute/
// hour/day land in the same bucket regardless of caller.
type Window string

const (
	WindowSecond Window = "second"
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// CountStore is a generic keyed fixed-window counter. It holds no opinion
// about what counts as "too fast"; callers own their windows and thresholds.
//
// Increment must apply the increment and set/refresh the bucket expiry as one
// atomic operation, and the returned count must reflect the increment just
// applied. GetCount never creates or mutates a bucket.
type CountStore interface {
	Increment(ctx context.Context, kind, subject string, window Window) (int, error)
	GetCount(ctx context.Context, kind, subject string, window Window) (int, error)
	IncrementDistinct(ctx context.Context, kind, subject, val string, window Window) error
	GetCountDistinct(ctx context.Context, kind, subject string, window Window) (int, error)
}

func bucketKey(kind, subject string, window Window, now time.Time) string {
	t := now.UTC()
	switch window {
	case WindowSecond:
		return fmt.Sprintf("%s/%s/%s", kind, subject, t.Format(time.RFC3339)[0:19])
	case WindowMinute:
		return fmt.Sprintf("%s/%s/%s", kind, subject, t.Format(time.RFC3339)[0:16])
	case WindowHour:
		return fmt.Sprintf("%s/%s/%s", kind, subject, t.Format(time.RFC3339)[0:13])
	case WindowDay:
		return fmt.Sprintf("%s/%s/%s", kind, subject, t.Format(time.DateOnly))
	default:
		return fmt.Sprintf("%s/%s/%s", kind, subject, t.Format(time.DateOnly))
	}
}

// bucketTTL is twice the window length, so a bucket survives until well after
// it can no longer be the current bucket.
func bucketTTL(window Window) time.Duration {
	switch window {
	case WindowSecond:
		return 2 * time.Second
	case WindowMinute:
		return 2 * time.Minute
	case WindowHour:
		return 2 * time.Hour
	default:
		return 48 * time.Hour
	}
}
