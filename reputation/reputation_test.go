package reputation

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
)

func testService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ReputationScore{}, &models.ReputationEvent{}))
	return NewService(db, slog.Default(), DefaultServiceConfig())
}

func TestBandForScore(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		score int
		band  string
	}{
		{score: -10, band: models.BandBanned},
		{score: -1, band: models.BandBanned},
		{score: 0, band: models.BandLow},
		{score: 19, band: models.BandLow},
		{score: 20, band: models.BandNormal},
		{score: 79, band: models.BandNormal},
		{score: 80, band: models.BandTrusted},
		{score: 500, band: models.BandTrusted},
	}
	for _, fix := range fixtures {
		assert.Equal(fix.band, BandForScore(fix.score))
	}
}

func TestRecordEvent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	score, err := svc.GetOrCreate(ctx, "user1")
	assert.NoError(err)
	assert.Equal(20, score.Score)
	assert.Equal(models.BandNormal, score.Band)

	score, err = svc.RecordEvent(ctx, "user1", "post", "abuse_report", -15, nil)
	assert.NoError(err)
	assert.Equal(5, score.Score)
	assert.Equal(models.BandLow, score.Band)

	score, err = svc.RecordEvent(ctx, "user1", "post", "confirmed_violation", -10, nil)
	assert.NoError(err)
	assert.Equal(-5, score.Score)
	assert.Equal(models.BandBanned, score.Band)
}

func TestLedgerConsistency(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	_, err := svc.RecordEvent(ctx, "user1", "post", "abuse_report", -3, nil)
	assert.NoError(err)
	_, err = svc.RecordEvent(ctx, "user1", "comment", "helpful", 7, map[string]any{"src": "votes"})
	assert.NoError(err)
	_, err = svc.AdjustManual(ctx, "user1", 10, "verified human", "mod1")
	assert.NoError(err)

	score, err := svc.GetOrCreate(ctx, "user1")
	assert.NoError(err)
	recomputed, err := svc.RecomputeScore(ctx, "user1")
	assert.NoError(err)
	assert.Equal(score.Score, recomputed, "ledger sum must reproduce the stored score")
}

func TestAdjustManualClamp(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	_, err := svc.AdjustManual(ctx, "user1", 51, "too much", "mod1")
	assert.ErrorIs(err, ErrDeltaOutOfRange)
	_, err = svc.AdjustManual(ctx, "user1", -51, "too much", "mod1")
	assert.ErrorIs(err, ErrDeltaOutOfRange)
	_, err = svc.AdjustManual(ctx, "user1", 50, "at the clamp", "mod1")
	assert.NoError(err)
}

func TestListRecentEvents(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	for i := 0; i < 5; i++ {
		_, err := svc.RecordEvent(ctx, "user1", "post", "abuse_report", -1, nil)
		assert.NoError(err)
	}

	// seed event plus five deltas, newest first
	page1, err := svc.ListRecentEvents(ctx, "user1", 0, 4)
	assert.NoError(err)
	assert.Len(page1, 4)
	page2, err := svc.ListRecentEvents(ctx, "user1", page1[len(page1)-1].ID, 4)
	assert.NoError(err)
	assert.Len(page2, 2)
	for _, evt := range page2 {
		assert.Less(evt.ID, page1[len(page1)-1].ID)
	}
}
