package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/restriction"
)

// RevertFunc undoes the collaborator-visible effect of one audit action and
// returns a result payload describing what was restored.
type RevertFunc func(ctx context.Context, enf *enforcer.Enforcer, c *models.ModerationCase, action *models.ModerationAction) (map[string]any, error)

// Revertors maps action names to revert handlers. Reverting appends a new
// audit action rather than touching the original row; the trail shows both
// the action and its undo.
type Revertors struct {
	cases    *cases.Service
	logger   *slog.Logger
	handlers map[string]RevertFunc
}

func NewRevertors(cs *cases.Service, logger *slog.Logger) *Revertors {
	r := &Revertors{
		cases:    cs,
		logger:   logger.With("system", "admin"),
		handlers: make(map[string]RevertFunc),
	}
	r.Register(policy.ActionRemove, revertContentHide)
	r.Register(policy.ActionTombstone, revertContentHide)
	r.Register(policy.ActionShadowHide, revertShadowHide)
	r.Register(policy.ActionRestrictCreate, revertRestrictions)
	r.Register(policy.ActionMute, revertRestrictions)
	r.Register(policy.ActionBan, revertRestrictions)
	return r
}

func (r *Revertors) Register(action string, fn RevertFunc) {
	r.handlers[action] = fn
}

// Revert undoes the most recent audit action of the given name on a case.
func (r *Revertors) Revert(ctx context.Context, caseID uint64, action string, actorID *string) (*models.ModerationAction, error) {
	fn, ok := r.handlers[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevertAction, action)
	}
	c, err := r.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	enf := r.cases.Enforcer()
	latest, err := enf.LatestAction(ctx, caseID, action)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNothingToRevert
		}
		return nil, err
	}

	result, revertErr := fn(ctx, enf, c, latest)
	payload := map[string]any{
		"reverted_action_id": latest.ID,
		"reverted_action":    action,
	}
	for k, v := range result {
		payload[k] = v
	}
	if revertErr != nil {
		payload["error"] = revertErr.Error()
	}
	audit, err := enf.AppendAudit(ctx, caseID, "revert_"+action, actorID, payload)
	if err != nil {
		return nil, err
	}
	if revertErr != nil {
		revertsTotal.WithLabelValues(action, "error").Inc()
		return audit, revertErr
	}
	revertsTotal.WithLabelValues(action, "ok").Inc()

	if owner, err := enf.Resolver().ResolveOwner(ctx, c.SubjectType, c.SubjectID); err == nil && owner != "" {
		ref := c.SubjectType + "/" + c.SubjectID
		if _, _, err := enf.Notifier().Persist(ctx, owner, "moderation_reverted", ref, actorID, payload); err != nil {
			r.logger.Warn("revert notification failed", "err", err, "caseID", caseID)
		}
	}
	return audit, nil
}

func revertContentHide(ctx context.Context, enf *enforcer.Enforcer, c *models.ModerationCase, action *models.ModerationAction) (map[string]any, error) {
	if err := enf.Content().Restore(ctx, c.SubjectType, c.SubjectID); err != nil {
		return nil, err
	}
	return map[string]any{"restored": true}, nil
}

func revertShadowHide(ctx context.Context, enf *enforcer.Enforcer, c *models.ModerationCase, action *models.ModerationAction) (map[string]any, error) {
	if err := enf.Content().Unhide(ctx, c.SubjectType, c.SubjectID); err != nil {
		return nil, err
	}
	return map[string]any{"unhidden": true}, nil
}

// revertRestrictions revokes the restriction IDs the original action recorded
// in its payload. Already-revoked rows are skipped, not errors, so a revert
// can be retried.
func revertRestrictions(ctx context.Context, enf *enforcer.Enforcer, c *models.ModerationCase, action *models.ModerationAction) (map[string]any, error) {
	var recorded struct {
		RestrictionIDs []uint64 `json:"restriction_ids"`
	}
	if err := json.Unmarshal(action.Payload, &recorded); err != nil {
		return nil, fmt.Errorf("decoding action payload: %w", err)
	}
	if len(recorded.RestrictionIDs) == 0 {
		return map[string]any{"revoked_restriction_ids": []uint64{}}, nil
	}
	var revoked []uint64
	for _, id := range recorded.RestrictionIDs {
		err := enf.Restrictions().Revoke(ctx, id)
		if err != nil && !errors.Is(err, restriction.ErrRestrictionNotFound) {
			return map[string]any{"revoked_restriction_ids": revoked}, err
		}
		revoked = append(revoked, id)
	}
	return map[string]any{"revoked_restriction_ids": revoked}, nil
}
