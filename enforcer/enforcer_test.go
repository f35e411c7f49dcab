package enforcer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/haven-social/guardrail/cachestore"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/notifs"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/restriction"
)

type fixture struct {
	enforcer     *Enforcer
	content      *MemContentStore
	resolver     *MemSubjectResolver
	restrictions *restriction.Service
	db           *gorm.DB
}

func testFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	content := NewMemContentStore()
	resolver := NewMemSubjectResolver()
	resolver.Owners["post/p1"] = "author1"
	restrictions := restriction.NewService(db, cachestore.NewMemCacheStore(128, time.Minute), slog.Default())
	notifier := notifs.NewSink(db, slog.Default(), notifs.DefaultSinkConfig())

	return &fixture{
		enforcer:     New(db, content, restrictions, resolver, notifier, slog.Default(), DefaultConfig()),
		content:      content,
		resolver:     resolver,
		restrictions: restrictions,
		db:           db,
	}
}

func TestApplyDecisionIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	dec := policy.Decision{Action: policy.ActionRemove, Severity: policy.SeverityHigh, Reasons: []string{"spam"}, PolicyID: "p1"}

	_, err := fix.enforcer.ApplyDecision(ctx, "post", "p1", 1, nil, dec)
	assert.NoError(err)
	public, err := fix.content.IsPublic(ctx, "post", "p1")
	assert.NoError(err)
	assert.False(public)

	// applying the same decision twice: two audit rows, identical content state
	_, err = fix.enforcer.ApplyDecision(ctx, "post", "p1", 1, nil, dec)
	assert.NoError(err)
	public, err = fix.content.IsPublic(ctx, "post", "p1")
	assert.NoError(err)
	assert.False(public)

	var count int64
	assert.NoError(fix.db.Model(&models.ModerationAction{}).Where("case_id = ? AND action = ?", 1, policy.ActionRemove).Count(&count).Error)
	assert.Equal(int64(2), count)
}

func TestApplyDecisionRestrictCreate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	dec := policy.Decision{
		Action:  policy.ActionRestrictCreate,
		Reasons: []string{"repeat offender"},
		Payload: map[string]string{"ttl": "48h"},
	}
	actions, err := fix.enforcer.ApplyDecision(ctx, "post", "p1", 2, nil, dec)
	assert.NoError(err)
	assert.Len(actions, 1)

	restricted, err := fix.restrictions.IsRestricted(ctx, "author1", "post", models.RestrictionRestrictCreate)
	assert.NoError(err)
	assert.True(restricted)

	// restriction id lands in the audit payload, for the revertor
	latest, err := fix.enforcer.LatestAction(ctx, 2, policy.ActionRestrictCreate)
	assert.NoError(err)
	assert.Contains(string(latest.Payload), "restriction_ids")
}

func TestHookFailureStillWritesAudit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	// no owner resolvable: the ban hook fails, but the audit row must exist
	dec := policy.Decision{Action: policy.ActionBan, Reasons: []string{"severe"}}
	_, err := fix.enforcer.ApplyDecision(ctx, "post", "unowned", 3, nil, dec)
	assert.Error(err)

	latest, err := fix.enforcer.LatestAction(ctx, 3, policy.ActionBan)
	assert.NoError(err)
	assert.Contains(string(latest.Payload), "hook_error")
}

func TestLatestActionIsAuthoritative(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	dec := policy.Decision{Action: policy.ActionShadowHide, Reasons: []string{"first"}}
	_, err := fix.enforcer.ApplyDecision(ctx, "post", "p1", 4, nil, dec)
	assert.NoError(err)
	dec.Reasons = []string{"second"}
	_, err = fix.enforcer.ApplyDecision(ctx, "post", "p1", 4, nil, dec)
	assert.NoError(err)

	latest, err := fix.enforcer.LatestAction(ctx, 4, policy.ActionShadowHide)
	assert.NoError(err)
	assert.Contains(string(latest.Payload), "second")
}
