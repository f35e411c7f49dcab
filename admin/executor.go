package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/reputation"
)

// StepPlan is the per-step outcome for one target: applied, guard-skipped, or
// errored. Simulate and Run produce the same shape; Simulate just never calls
// the case service.
type StepPlan struct {
	Action     string            `json:"action"`
	Skipped    bool              `json:"skipped,omitempty"`
	SkipReason string            `json:"skip_reason,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type TargetPlan struct {
	Target TargetRef  `json:"target"`
	Steps  []StepPlan `json:"steps"`
}

// Executor runs catalog macros against explicit target lists. Every applied
// step goes through the case service, so macro enforcement is
// indistinguishable from automated enforcement in the audit trail.
type Executor struct {
	catalog *Catalog
	cases   *cases.Service
	rep     *reputation.Service
	logger  *slog.Logger
}

func NewExecutor(catalog *Catalog, cs *cases.Service, rep *reputation.Service, logger *slog.Logger) *Executor {
	return &Executor{
		catalog: catalog,
		cases:   cs,
		rep:     rep,
		logger:  logger.With("system", "admin"),
	}
}

// SimulateMacro produces the full plan — which steps would apply to which
// targets, with interpolated payloads — without side effects.
func (e *Executor) SimulateMacro(ctx context.Context, key string, version int, targets []TargetRef, vars map[string]string) ([]TargetPlan, error) {
	return e.execute(ctx, key, version, targets, vars, nil, false)
}

// RunMacro applies the macro. Per-step errors are recorded in the plan and do
// not stop remaining steps or targets.
func (e *Executor) RunMacro(ctx context.Context, key string, version int, targets []TargetRef, vars map[string]string, actorID *string) ([]TargetPlan, error) {
	return e.execute(ctx, key, version, targets, vars, actorID, true)
}

func (e *Executor) execute(ctx context.Context, key string, version int, targets []TargetRef, vars map[string]string, actorID *string, apply bool) ([]TargetPlan, error) {
	rec, err := e.catalog.Get(ctx, key, version)
	if err != nil {
		return nil, err
	}
	spec, err := ParseSpec(rec.Kind, rec.Spec)
	if err != nil {
		return nil, err
	}
	policyID := fmt.Sprintf("macro/%s@%d", rec.Key, rec.Version)

	var plans []TargetPlan
	for _, target := range targets {
		gc, owner, err := e.resolveContext(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("resolving target %s/%s: %w", target.Type, target.ID, err)
		}
		stepVars := mergeVars(vars, map[string]string{
			"subject_type": target.Type,
			"subject_id":   target.ID,
			"owner_id":     owner,
		})

		plan := TargetPlan{Target: target}
		for _, step := range spec.Steps {
			sp := StepPlan{Action: step.Action}
			if !evalGuards(step.Guards, gc) {
				sp.Skipped = true
				sp.SkipReason = "guard"
				if apply {
					macroSteps.WithLabelValues(step.Action, "skipped").Inc()
				}
				plan.Steps = append(plan.Steps, sp)
				continue
			}
			payload, err := InterpolatePayload(step.Payload, stepVars)
			if err != nil {
				sp.Error = err.Error()
				if apply {
					macroSteps.WithLabelValues(step.Action, "error").Inc()
				}
				plan.Steps = append(plan.Steps, sp)
				continue
			}
			sp.Payload = payload

			if apply {
				dec := policy.Decision{
					Action:   step.Action,
					Severity: step.Severity,
					Reasons:  []string{step.Reason},
					Payload:  payload,
					PolicyID: policyID,
				}
				if _, err := e.cases.ApplyDecision(ctx, target.Type, target.ID, actorID, dec); err != nil {
					sp.Error = err.Error()
					macroSteps.WithLabelValues(step.Action, "error").Inc()
					e.logger.Error("macro step failed", "err", err, "macro", policyID, "action", step.Action, "target", target)
				} else {
					macroSteps.WithLabelValues(step.Action, "applied").Inc()
				}
			}
			plan.Steps = append(plan.Steps, sp)
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// resolveContext gathers the guard inputs for one target in one place, so
// guard evaluation itself stays pure.
func (e *Executor) resolveContext(ctx context.Context, target TargetRef) (GuardContext, string, error) {
	enf := e.cases.Enforcer()
	gc := GuardContext{
		SubjectType: target.Type,
		SubjectID:   target.ID,
		Now:         time.Now(),
	}

	owner, err := enf.Resolver().ResolveOwner(ctx, target.Type, target.ID)
	if err != nil {
		return gc, "", err
	}
	gc.OwnerID = owner
	if owner != "" {
		score, err := e.rep.GetOrCreate(ctx, owner)
		if err != nil {
			return gc, owner, err
		}
		gc.Band = score.Band
	}

	if c, err := e.cases.GetCaseBySubject(ctx, target.Type, target.ID); err == nil {
		gc.CaseStatus = c.Status
	} else if !errors.Is(err, cases.ErrCaseNotFound) {
		return gc, owner, err
	}

	if gc.IsPublic, err = enf.Content().IsPublic(ctx, target.Type, target.ID); err != nil {
		return gc, owner, err
	}
	if gc.Shadowed, err = enf.Content().IsShadowed(ctx, target.Type, target.ID); err != nil {
		return gc, owner, err
	}
	if gc.SubjectCreatedAt, err = enf.Content().CreatedAt(ctx, target.Type, target.ID); err != nil {
		return gc, owner, err
	}
	return gc, owner, nil
}

// mergeVars layers the built-in target vars over the caller's; built-ins win
// on collision.
func mergeVars(user, builtin map[string]string) map[string]string {
	out := make(map[string]string, len(user)+len(builtin))
	for k, v := range user {
		out[k] = v
	}
	for k, v := range builtin {
		out[k] = v
	}
	return out
}
