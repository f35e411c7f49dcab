package admin

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/haven-social/guardrail/cachestore"
	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/countstore"
	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/notifs"
	"github.com/haven-social/guardrail/reputation"
	"github.com/haven-social/guardrail/restriction"
)

type fixture struct {
	db           *gorm.DB
	catalog      *Catalog
	scheduler    *Scheduler
	executor     *Executor
	revertors    *Revertors
	cases        *cases.Service
	content      *enforcer.MemContentStore
	resolver     *enforcer.MemSubjectResolver
	restrictions *restriction.Service
	rep          *reputation.Service
}

func testFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	logger := slog.Default()
	content := enforcer.NewMemContentStore()
	resolver := enforcer.NewMemSubjectResolver()
	resolver.Owners["post/p1"] = "author1"
	resolver.Owners["post/p2"] = "author2"
	restrictions := restriction.NewService(db, cachestore.NewMemCacheStore(128, time.Minute), logger)
	notifier := notifs.NewSink(db, logger, notifs.DefaultSinkConfig())
	enf := enforcer.New(db, content, restrictions, resolver, notifier, logger, enforcer.DefaultConfig())
	cs := cases.NewService(db, countstore.NewMemCountStore(), enf, eventlog.NewMemLog(), logger, cases.DefaultConfig())
	rep := reputation.NewService(db, logger, reputation.DefaultServiceConfig())
	catalog := NewCatalog(db, logger)

	return &fixture{
		db:           db,
		catalog:      catalog,
		scheduler:    NewScheduler(db, logger),
		executor:     NewExecutor(catalog, cs, rep, logger),
		revertors:    NewRevertors(cs, logger),
		cases:        cs,
		content:      content,
		resolver:     resolver,
		restrictions: restrictions,
		rep:          rep,
	}
}

const macroSpec = `{
	"description": "remove content and warn the author",
	"steps": [
		{"action": "remove", "severity": "high", "reason": "cleanup", "payload": {"note": "{{note}}"}},
		{"action": "warn", "reason": "cleanup", "guards": [{"subject.type_in": ["post"]}]}
	]
}`

func TestCatalogVersioning(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	rec, err := fix.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)
	assert.Equal(1, rec.Version)

	// (key, version) is immutable
	_, err = fix.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.ErrorIs(err, ErrVersionExists)

	// version 0 auto-assigns the next version
	rec2, err := fix.catalog.CreateVersion(ctx, "cleanup", 0, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)
	assert.Equal(2, rec2.Version)

	// version 0 on Get resolves the latest active version
	got, err := fix.catalog.Get(ctx, "cleanup", 0)
	assert.NoError(err)
	assert.Equal(2, got.Version)

	assert.NoError(fix.catalog.Deactivate(ctx, "cleanup", 2))
	got, err = fix.catalog.Get(ctx, "cleanup", 0)
	assert.NoError(err)
	assert.Equal(1, got.Version)

	// explicit version still reaches the deactivated row
	got, err = fix.catalog.Get(ctx, "cleanup", 2)
	assert.NoError(err)
	assert.False(got.IsActive)

	_, err = fix.catalog.Get(ctx, "nope", 0)
	assert.ErrorIs(err, ErrActionNotFound)
}

func TestCatalogRejectsBadSpecs(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	_, err := fix.catalog.CreateVersion(ctx, "bad", 1, models.ActionKindAtomic, []byte(`{"steps":[{"action":"explode"}]}`), "admin1")
	assert.Error(err)

	_, err = fix.catalog.CreateVersion(ctx, "bad", 1, models.ActionKindAtomic, []byte(macroSpec), "admin1")
	assert.Error(err) // atomic with two steps

	_, err = fix.catalog.CreateVersion(ctx, "bad", 1, "mystery", []byte(macroSpec), "admin1")
	assert.Error(err)
}

func TestGuards(t *testing.T) {
	assert := assert.New(t)

	gc := GuardContext{
		SubjectType:      "post",
		Band:             models.BandLow,
		CaseStatus:       models.CaseStatusOpen,
		IsPublic:         true,
		SubjectCreatedAt: time.Now().Add(-2 * time.Hour),
		Now:              time.Now(),
	}

	assert.True(GuardUserBandIn("low", "banned").Eval(gc))
	assert.False(GuardUserBandIn("trusted").Eval(gc))
	assert.True(GuardCaseStatusIn("open").Eval(gc))
	assert.True(GuardSubjectPublic(true).Eval(gc))
	assert.False(GuardSubjectShadowed(true).Eval(gc))
	assert.True(GuardCreatedWithinHours(3).Eval(gc))
	assert.False(GuardCreatedWithinHours(1).Eval(gc))
	assert.True(GuardSubjectTypeIn("post").Eval(gc))
	assert.False(GuardNot(GuardSubjectTypeIn("post")).Eval(gc))

	// unknown creation time never satisfies a recency guard
	gc.SubjectCreatedAt = time.Time{}
	assert.False(GuardCreatedWithinHours(1000).Eval(gc))
}

func TestGuardParsing(t *testing.T) {
	assert := assert.New(t)

	var g Guard
	assert.NoError(g.UnmarshalJSON([]byte(`{"user.band_in": ["low"]}`)))
	assert.True(g.Eval(GuardContext{Band: "low"}))

	assert.NoError(g.UnmarshalJSON([]byte(`{"not": {"subject.is_public": true}}`)))
	assert.True(g.Eval(GuardContext{IsPublic: false}))

	// unknown guard names fail at parse, not at eval
	assert.Error(g.UnmarshalJSON([]byte(`{"user.is_cool": true}`)))
	// exactly one condition per guard
	assert.Error(g.UnmarshalJSON([]byte(`{"subject.is_public": true, "subject.shadowed": false}`)))
}

func TestInterpolate(t *testing.T) {
	assert := assert.New(t)

	out, err := Interpolate("banned for {{days}} days", map[string]string{"days": "7"})
	assert.NoError(err)
	assert.Equal("banned for 7 days", out)

	_, err = Interpolate("{{who}} did {{what}}", map[string]string{"who": "x"})
	assert.ErrorContains(err, "what")

	payload, err := InterpolatePayload(map[string]string{"ttl": "{{ttl}}"}, map[string]string{"ttl": "48h"})
	assert.NoError(err)
	assert.Equal("48h", payload["ttl"])
}

func TestBatchJobPartialSuccess(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	targets := []TargetRef{
		{Type: "post", ID: "a"}, {Type: "post", ID: "b"}, {Type: "post", ID: "c"},
		{Type: "post", ID: "d"}, {Type: "post", ID: "bad"},
	}
	job, err := fix.scheduler.Run(ctx, "unshadow", targets, JobOptions{CreatedBy: "admin1"}, func(ctx context.Context, target TargetRef) (map[string]any, error) {
		if target.ID == "bad" {
			return nil, tassert.AnError
		}
		return map[string]any{"done": true}, nil
	})
	assert.NoError(err)
	assert.Equal(models.JobStatusFailed, job.Status)
	assert.Equal(5, job.TotalCount)
	assert.Equal(4, job.OkCount)
	assert.Equal(1, job.ErrCount)

	items, err := fix.scheduler.ListItems(ctx, job.ID)
	assert.NoError(err)
	assert.Len(items, 5)
	var failed int
	for _, item := range items {
		if !item.OK {
			failed++
			assert.NotEmpty(item.Error)
		}
	}
	assert.Equal(1, failed)
}

func TestBatchJobDryRun(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	called := 0
	job, err := fix.scheduler.Run(ctx, "revert", []TargetRef{{Type: "post", ID: "a"}}, JobOptions{DryRun: true}, func(ctx context.Context, target TargetRef) (map[string]any, error) {
		called++
		return nil, nil
	})
	assert.NoError(err)
	assert.Equal(0, called)
	assert.Equal(models.JobStatusCompleted, job.Status)
	assert.Equal(1, job.OkCount)

	items, err := fix.scheduler.ListItems(ctx, job.ID)
	assert.NoError(err)
	require.Len(t, items, 1)
	assert.Contains(string(items[0].Result), "planned")
}

func TestBatchJobSampling(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	var targets []TargetRef
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		targets = append(targets, TargetRef{Type: "post", ID: id})
	}
	job, err := fix.scheduler.Run(ctx, "canary", targets, JobOptions{SampleSize: 2}, func(ctx context.Context, target TargetRef) (map[string]any, error) {
		return nil, nil
	})
	assert.NoError(err)
	assert.Equal(2, job.TotalCount)
	assert.Equal(2, job.OkCount)
}

func TestBatchJobRecoversPanics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	job, err := fix.scheduler.Run(ctx, "panicky", []TargetRef{{Type: "post", ID: "a"}}, JobOptions{}, func(ctx context.Context, target TargetRef) (map[string]any, error) {
		panic("boom")
	})
	assert.NoError(err)
	assert.Equal(models.JobStatusFailed, job.Status)
	assert.Equal(1, job.ErrCount)
}

func TestBundleRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	src := testFixture(t)
	dst := testFixture(t)

	_, err := src.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)

	raw, err := src.catalog.ExportBundle(ctx, "s3cret")
	assert.NoError(err)

	// wrong secret rejects the whole bundle
	_, err = dst.catalog.ImportBundle(ctx, raw, "wrong", "admin2", false)
	assert.ErrorIs(err, ErrBadSignature)

	diff, err := dst.catalog.ImportBundle(ctx, raw, "s3cret", "admin2", false)
	assert.NoError(err)
	assert.Equal([]string{"cleanup@1"}, diff.Created)

	// second import is a no-op
	diff, err = dst.catalog.ImportBundle(ctx, raw, "s3cret", "admin2", false)
	assert.NoError(err)
	assert.Empty(diff.Created)
	assert.Equal([]string{"cleanup@1"}, diff.Unchanged)

	got, err := dst.catalog.Get(ctx, "cleanup", 1)
	assert.NoError(err)
	assert.Equal(models.ActionKindMacro, got.Kind)
}

func TestBundleImportDryRun(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	src := testFixture(t)
	dst := testFixture(t)

	_, err := src.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)

	raw, err := src.catalog.ExportBundle(ctx, "s3cret")
	assert.NoError(err)

	// dry run reports the plan but writes nothing
	diff, err := dst.catalog.ImportBundle(ctx, raw, "s3cret", "admin2", true)
	assert.NoError(err)
	assert.Equal([]string{"cleanup@1"}, diff.Created)

	_, err = dst.catalog.Get(ctx, "cleanup", 1)
	assert.ErrorIs(err, ErrActionNotFound)
	records, err := dst.catalog.List(ctx)
	assert.NoError(err)
	assert.Empty(records)

	// the real import after a dry run lands identically
	diff, err = dst.catalog.ImportBundle(ctx, raw, "s3cret", "admin2", false)
	assert.NoError(err)
	assert.Equal([]string{"cleanup@1"}, diff.Created)
	_, err = dst.catalog.Get(ctx, "cleanup", 1)
	assert.NoError(err)
}

func TestBundleDriftAppendsVersion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	src := testFixture(t)
	dst := testFixture(t)

	_, err := src.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)
	raw, err := src.catalog.ExportBundle(ctx, "")
	assert.NoError(err)

	// destination already has a diverged cleanup@1
	other := `{"steps":[{"action":"warn","reason":"local variant"}]}`
	_, err = dst.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(other), "admin2")
	assert.NoError(err)

	diff, err := dst.catalog.ImportBundle(ctx, raw, "", "admin2", false)
	assert.NoError(err)
	assert.Equal([]string{"cleanup@1"}, diff.Updated)

	// the local version was not overwritten; the import landed as v2
	local, err := dst.catalog.Get(ctx, "cleanup", 1)
	assert.NoError(err)
	assert.Contains(string(local.Spec), "local variant")
	imported, err := dst.catalog.Get(ctx, "cleanup", 2)
	assert.NoError(err)
	assert.Contains(string(imported.Spec), "cleanup")
}

func TestMacroSimulateAndRun(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	_, err := fix.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)

	targets := []TargetRef{{Type: "post", ID: "p1"}, {Type: "comment", ID: "c1"}}
	vars := map[string]string{"note": "sweep"}

	plans, err := fix.executor.SimulateMacro(ctx, "cleanup", 0, targets, vars)
	assert.NoError(err)
	require.Len(t, plans, 2)
	// warn step is guarded to posts only
	assert.False(plans[0].Steps[1].Skipped)
	assert.True(plans[1].Steps[1].Skipped)
	assert.Equal("sweep", plans[0].Steps[0].Payload["note"])

	// simulation had no side effects
	public, err := fix.content.IsPublic(ctx, "post", "p1")
	assert.NoError(err)
	assert.True(public)

	admin := "admin1"
	_, err = fix.executor.RunMacro(ctx, "cleanup", 0, targets, vars, &admin)
	assert.NoError(err)
	public, err = fix.content.IsPublic(ctx, "post", "p1")
	assert.NoError(err)
	assert.False(public)

	c, err := fix.cases.GetCaseBySubject(ctx, "post", "p1")
	assert.NoError(err)
	assert.Equal(models.CaseStatusActioned, c.Status)
	assert.Equal("macro/cleanup@1", c.PolicyID)
}

func TestMacroUnresolvedVarFailsStep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)

	_, err := fix.catalog.CreateVersion(ctx, "cleanup", 1, models.ActionKindMacro, []byte(macroSpec), "admin1")
	assert.NoError(err)

	plans, err := fix.executor.SimulateMacro(ctx, "cleanup", 0, []TargetRef{{Type: "post", ID: "p1"}}, nil)
	assert.NoError(err)
	require.Len(t, plans, 1)
	assert.Contains(plans[0].Steps[0].Error, "note")
	// the warn step has no templated payload and is unaffected
	assert.False(plans[0].Steps[1].Skipped)
	assert.Empty(plans[0].Steps[1].Error)
}

func TestRevertRestoresContent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)
	admin := "admin1"

	_, err := fix.catalog.CreateVersion(ctx, "takedown", 1, models.ActionKindAtomic, []byte(`{"steps":[{"action":"remove","reason":"spam"}]}`), "admin1")
	assert.NoError(err)
	_, err = fix.executor.RunMacro(ctx, "takedown", 0, []TargetRef{{Type: "post", ID: "p1"}}, nil, &admin)
	assert.NoError(err)

	c, err := fix.cases.GetCaseBySubject(ctx, "post", "p1")
	assert.NoError(err)

	audit, err := fix.revertors.Revert(ctx, c.ID, "remove", &admin)
	assert.NoError(err)
	assert.Contains(string(audit.Payload), "restored")

	public, err := fix.content.IsPublic(ctx, "post", "p1")
	assert.NoError(err)
	assert.True(public)

	// nothing of that name left to revert
	_, err = fix.revertors.Revert(ctx, c.ID, "shadow_hide", &admin)
	assert.ErrorIs(err, ErrNothingToRevert)
	_, err = fix.revertors.Revert(ctx, c.ID, "strip_links", &admin)
	assert.ErrorIs(err, ErrUnknownRevertAction)
}

func TestRevertRevokesRestrictions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := testFixture(t)
	admin := "admin1"

	_, err := fix.catalog.CreateVersion(ctx, "freeze", 1, models.ActionKindAtomic, []byte(`{"steps":[{"action":"restrict_create","reason":"burst","payload":{"ttl":"48h"}}]}`), "admin1")
	assert.NoError(err)
	_, err = fix.executor.RunMacro(ctx, "freeze", 0, []TargetRef{{Type: "post", ID: "p1"}}, nil, &admin)
	assert.NoError(err)

	restricted, err := fix.restrictions.IsRestricted(ctx, "author1", models.ScopeGlobal, models.RestrictionRestrictCreate)
	assert.NoError(err)
	assert.True(restricted)

	c, err := fix.cases.GetCaseBySubject(ctx, "post", "p1")
	assert.NoError(err)
	_, err = fix.revertors.Revert(ctx, c.ID, "restrict_create", &admin)
	assert.NoError(err)

	restricted, err = fix.restrictions.IsRestricted(ctx, "author1", models.ScopeGlobal, models.RestrictionRestrictCreate)
	assert.NoError(err)
	assert.False(restricted)
}
