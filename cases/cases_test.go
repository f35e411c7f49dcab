package cases

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
	"github.com/haven-social/guardrail/countstore"
	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/notifs"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/restriction"
)

type fixture struct {
	svc      *Service
	enforcer *enforcer.Enforcer
	content  *enforcer.MemContentStore
	resolver *enforcer.MemSubjectResolver
	events   *eventlog.MemLog
	db       *gorm.DB
}

func testFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	content := enforcer.NewMemContentStore()
	resolver := enforcer.NewMemSubjectResolver()
	resolver.Owners["post/p1"] = "author1"
	restrictions := restriction.NewService(db, cachestore.NewMemCacheStore(128, time.Minute), slog.Default())
	notifier := notifs.NewSink(db, slog.Default(), notifs.DefaultSinkConfig())
	enf := enforcer.New(db, content, restrictions, resolver, notifier, slog.Default(), enforcer.DefaultConfig())
	events := eventlog.NewMemLog()

	return &fixture{
		svc:      NewService(db, countstore.NewMemCountStore(), enf, events, slog.Default(), config),
		enforcer: enf,
		content:  content,
		resolver: resolver,
		events:   events,
		db:       db,
	}
}

func TestReportAggregation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())

	_, c1, err := fix.svc.SubmitReport(ctx, "post", "p1", "alice", "spam", "looks spammy")
	assert.NoError(err)
	_, c2, err := fix.svc.SubmitReport(ctx, "post", "p1", "bob", "spam", "")
	assert.NoError(err)
	assert.Equal(c1.ID, c2.ID)

	reports, err := fix.svc.ListReports(ctx, c1.ID)
	assert.NoError(err)
	assert.Len(reports, 2)

	// same reporter, same subject: rejected
	_, _, err = fix.svc.SubmitReport(ctx, "post", "p1", "alice", "spam", "again")
	assert.ErrorIs(err, ErrDuplicateReport)

	// different subject: new case
	_, c3, err := fix.svc.SubmitReport(ctx, "post", "p2", "alice", "spam", "")
	assert.NoError(err)
	assert.NotEqual(c1.ID, c3.ID)
}

func TestReporterDailyLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, Config{ReporterDailyLimit: 2})

	_, _, err := fix.svc.SubmitReport(ctx, "post", "a", "alice", "spam", "")
	assert.NoError(err)
	_, _, err = fix.svc.SubmitReport(ctx, "post", "b", "alice", "spam", "")
	assert.NoError(err)
	_, _, err = fix.svc.SubmitReport(ctx, "post", "c", "alice", "spam", "")
	assert.ErrorIs(err, ErrReportLimitExceeded)

	// other reporters have their own budget
	_, _, err = fix.svc.SubmitReport(ctx, "post", "c", "bob", "spam", "")
	assert.NoError(err)
}

func TestDuplicateReportsDoNotConsumeBudget(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, Config{ReporterDailyLimit: 2})

	_, _, err := fix.svc.SubmitReport(ctx, "post", "a", "alice", "spam", "")
	assert.NoError(err)

	// hammering the same subject is rejected but free
	for i := 0; i < 5; i++ {
		_, _, err = fix.svc.SubmitReport(ctx, "post", "a", "alice", "spam", "again")
		assert.ErrorIs(err, ErrDuplicateReport)
	}

	// the second real report still fits the budget, the third does not
	_, _, err = fix.svc.SubmitReport(ctx, "post", "b", "alice", "spam", "")
	assert.NoError(err)
	_, _, err = fix.svc.SubmitReport(ctx, "post", "c", "alice", "spam", "")
	assert.ErrorIs(err, ErrReportLimitExceeded)
}

func TestApplyDecisionMovesCase(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())

	dec := policy.Decision{Action: policy.ActionRemove, Severity: policy.SeverityHigh, Reasons: []string{"spam"}, PolicyID: "baseline-v1"}
	c, err := fix.svc.ApplyDecision(ctx, "post", "p1", nil, dec)
	assert.NoError(err)
	assert.Equal(models.CaseStatusActioned, c.Status)
	assert.Equal("spam", c.Reason)
	assert.Equal("baseline-v1", c.PolicyID)

	public, err := fix.content.IsPublic(ctx, "post", "p1")
	assert.NoError(err)
	assert.False(public)

	// a later report on the same subject piles onto the actioned case
	_, c2, err := fix.svc.SubmitReport(ctx, "post", "p1", "alice", "spam", "")
	assert.NoError(err)
	assert.Equal(c.ID, c2.ID)

	// decision event was published
	entries, err := fix.events.Read(ctx, eventlog.StreamDecisions, eventlog.CursorStart, 10, 0)
	assert.NoError(err)
	assert.Len(entries, 1)
	assert.Equal("remove", entries[0].Fields["action"])
}

func TestEscalationBumpsLevel(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())

	dec := policy.Decision{Action: policy.ActionEscalate, Severity: policy.SeverityCritical, Reasons: []string{"honeypot"}}
	c, err := fix.svc.ApplyDecision(ctx, "post", "p1", nil, dec)
	assert.NoError(err)
	assert.Equal(models.CaseStatusEscalated, c.Status)
	assert.Equal(1, c.EscalationLevel)

	mod := "mod1"
	assert.NoError(fix.svc.AssignCase(ctx, c.ID, "senior1", &mod))
	got, err := fix.svc.GetCase(ctx, c.ID)
	assert.NoError(err)
	assert.Equal("senior1", *got.AssignedTo)
}

func TestWorkflowTransitions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())
	mod := "mod1"

	_, c, err := fix.svc.SubmitReport(ctx, "post", "p1", "alice", "spam", "")
	assert.NoError(err)

	assert.NoError(fix.svc.DismissCase(ctx, c.ID, &mod, "not actionable"))
	got, err := fix.svc.GetCase(ctx, c.ID)
	assert.NoError(err)
	assert.Equal(models.CaseStatusDismissed, got.Status)
	assert.Nil(got.OpenKey)

	// terminal: dismissing or closing again conflicts
	assert.ErrorIs(fix.svc.DismissCase(ctx, c.ID, &mod, ""), ErrWorkflowConflict)
	assert.ErrorIs(fix.svc.CloseCase(ctx, c.ID, &mod, ""), ErrWorkflowConflict)

	// a fresh report on the same subject opens a new case
	_, c2, err := fix.svc.SubmitReport(ctx, "post", "p1", "bob", "spam", "")
	assert.NoError(err)
	assert.NotEqual(c.ID, c2.ID)
	assert.Equal(models.CaseStatusOpen, c2.Status)

	assert.ErrorIs(fix.svc.CloseCase(ctx, 9999, &mod, ""), ErrCaseNotFound)
}

func TestAppealLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())

	dec := policy.Decision{Action: policy.ActionRemove, Reasons: []string{"spam"}}
	c, err := fix.svc.ApplyDecision(ctx, "post", "p1", nil, dec)
	assert.NoError(err)

	// only the owner may appeal
	_, err = fix.svc.SubmitAppeal(ctx, c.ID, "stranger", "unfair")
	assert.ErrorIs(err, ErrAppealNotAllowed)

	appeal, err := fix.svc.SubmitAppeal(ctx, c.ID, "author1", "this was satire")
	assert.NoError(err)
	assert.Equal(models.AppealStatusOpen, appeal.Status)

	// one open appeal at a time
	_, err = fix.svc.SubmitAppeal(ctx, c.ID, "author1", "again")
	assert.ErrorIs(err, ErrAppealAlreadyOpen)

	resolved, err := fix.svc.ResolveAppeal(ctx, appeal.ID, "reviewer1", models.AppealStatusAccepted, "agreed, restoring")
	assert.NoError(err)
	assert.Equal(models.AppealStatusAccepted, resolved.Status)
	assert.Equal("reviewer1", *resolved.ReviewedBy)

	// resolving twice conflicts
	_, err = fix.svc.ResolveAppeal(ctx, appeal.ID, "reviewer1", models.AppealStatusRejected, "")
	assert.ErrorIs(err, ErrWorkflowConflict)

	// case can take a fresh appeal after resolution
	appeal2, err := fix.svc.SubmitAppeal(ctx, c.ID, "author1", "still wrong")
	assert.NoError(err)
	assert.NotEqual(appeal.ID, appeal2.ID)
}

func TestAppealRequiresActionedCase(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())

	_, c, err := fix.svc.SubmitReport(ctx, "post", "p1", "alice", "spam", "")
	assert.NoError(err)

	// open case: nothing to appeal yet
	_, err = fix.svc.SubmitAppeal(ctx, c.ID, "author1", "preemptive")
	assert.ErrorIs(err, ErrAppealNotAllowed)
}

func TestListCasesKeyset(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t, DefaultConfig())

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := fix.svc.SubmitReport(ctx, "post", id, "alice", "spam", "")
		assert.NoError(err)
	}

	page1, err := fix.svc.ListCases(ctx, models.CaseStatusOpen, 0, 2)
	assert.NoError(err)
	require.Len(t, page1, 2)
	assert.Greater(page1[0].ID, page1[1].ID)

	page2, err := fix.svc.ListCases(ctx, models.CaseStatusOpen, page1[1].ID, 2)
	assert.NoError(err)
	assert.Len(page2, 1)
}
