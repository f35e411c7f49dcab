package linkage

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
	require.NoError(t, db.AutoMigrate(&models.LinkageRecord{}))
	return NewService(db, slog.Default())
}

func TestRecordEdgeAndClusterQueries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	_, err := svc.RecordEdge(ctx, "cluster1", "alice", RelationDeviceFP, 0.9)
	assert.NoError(err)
	_, err = svc.RecordEdge(ctx, "cluster1", "bob", RelationDeviceFP, 0.8)
	assert.NoError(err)
	_, err = svc.RecordEdge(ctx, "cluster1", "carol", RelationIP, 0.5)
	assert.NoError(err)

	// repeated observation bumps strength, no duplicate row
	edge, err := svc.RecordEdge(ctx, "cluster1", "alice", RelationDeviceFP, 0.95)
	assert.NoError(err)
	assert.Equal(0.95, edge.Strength)

	n, err := svc.ClusterSize(ctx, "cluster1")
	assert.NoError(err)
	assert.Equal(3, n)

	n, err = svc.LargestClusterSize(ctx, "alice")
	assert.NoError(err)
	assert.Equal(3, n)

	related, err := svc.RelatedAccounts(ctx, "alice")
	assert.NoError(err)
	assert.ElementsMatch([]string{"bob", "carol"}, related)

	n, err = svc.LargestClusterSize(ctx, "stranger")
	assert.NoError(err)
	assert.Equal(0, n)
}
