package notifs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
)

func testSink(t *testing.T, config SinkConfig) *Sink {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))
	return NewSink(db, slog.Default(), config)
}

func TestPersistAndDedupe(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	sink := testSink(t, DefaultSinkConfig())

	n, created, err := sink.Persist(ctx, "user1", "case_actioned", "case/1", nil, map[string]any{"action": "remove"})
	assert.NoError(err)
	assert.True(created)
	assert.NotNil(n)

	// identical notification within the dedupe window is suppressed
	_, created, err = sink.Persist(ctx, "user1", "case_actioned", "case/1", nil, nil)
	assert.NoError(err)
	assert.False(created)

	// different ref is not suppressed
	_, created, err = sink.Persist(ctx, "user1", "case_actioned", "case/2", nil, nil)
	assert.NoError(err)
	assert.True(created)
}

func TestPersistRateLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	config := DefaultSinkConfig()
	config.PerUserRate = rate.Every(time.Hour)
	config.PerUserBurst = 2
	config.DedupeWindow = time.Nanosecond
	sink := testSink(t, config)

	for i := 0; i < 2; i++ {
		_, created, err := sink.Persist(ctx, "user1", "warn", string(rune('a'+i)), nil, nil)
		assert.NoError(err)
		assert.True(created)
	}
	_, created, err := sink.Persist(ctx, "user1", "warn", "z", nil, nil)
	assert.NoError(err)
	assert.False(created, "burst exhausted, sink drops silently")
}
