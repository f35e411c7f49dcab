// Package enforcer translates policy decisions into effects against the
// content and identity collaborators, and appends one immutable audit action
// per effect. The audit trail is authoritative: a hook failure is recorded in
// the action payload and retried later, never allowed to block the audit
// write.
package enforcer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/notifs"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/restriction"
)

type Config struct {
	// TTL attached to restrict_create restrictions produced by decisions
	// whose payload does not carry an explicit expiry
	DefaultRestrictTTL time.Duration
	MuteTTL            time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultRestrictTTL: 7 * 24 * time.Hour,
		MuteTTL:            24 * time.Hour,
	}
}

type Enforcer struct {
	db           *gorm.DB
	content      ContentStore
	restrictions *restriction.Service
	resolver     SubjectResolver
	notifier     *notifs.Sink
	logger       *slog.Logger
	config       Config
}

func New(db *gorm.DB, content ContentStore, restrictions *restriction.Service, resolver SubjectResolver, notifier *notifs.Sink, logger *slog.Logger, config Config) *Enforcer {
	return &Enforcer{
		db:           db,
		content:      content,
		restrictions: restrictions,
		resolver:     resolver,
		notifier:     notifier,
		logger:       logger.With("system", "enforcer"),
		config:       config,
	}
}

// ApplyDecision executes every effect the decision implies and appends one
// audit row per effect. Safe to invoke twice for the same (case, decision):
// the audit trail gains a second row, but the collaborator-visible state is
// unchanged (hooks are idempotent).
func (e *Enforcer) ApplyDecision(ctx context.Context, subjectType, subjectID string, caseID uint64, actorID *string, dec policy.Decision) ([]*models.ModerationAction, error) {
	if dec.Action == policy.ActionNone {
		return nil, nil
	}

	var actions []*models.ModerationAction
	payload := map[string]any{
		"subject_type": subjectType,
		"subject_id":   subjectID,
		"severity":     dec.Severity,
		"reasons":      dec.Reasons,
		"policy_id":    dec.PolicyID,
	}
	for k, v := range dec.Payload {
		payload[k] = v
	}

	hookErr := e.runHook(ctx, subjectType, subjectID, dec, payload)
	if hookErr != nil {
		// fire-and-collect: the audit row is written regardless, carrying
		// the failure so the actions worker can re-drive the effect
		payload["hook_error"] = hookErr.Error()
		enforcerHookFailures.WithLabelValues(dec.Action).Inc()
		e.logger.Error("enforcement hook failed", "err", hookErr, "action", dec.Action, "subjectType", subjectType, "subjectID", subjectID)
	}

	action, err := e.appendAction(ctx, caseID, dec.Action, actorID, payload)
	if err != nil {
		return nil, fmt.Errorf("persisting audit action: %w", err)
	}
	actions = append(actions, action)
	enforcerActions.WithLabelValues(dec.Action).Inc()
	return actions, hookErr
}

func (e *Enforcer) runHook(ctx context.Context, subjectType, subjectID string, dec policy.Decision, payload map[string]any) error {
	owner, err := e.resolver.ResolveOwner(ctx, subjectType, subjectID)
	if err != nil {
		e.logger.Warn("owner resolution failed", "err", err, "subjectType", subjectType, "subjectID", subjectID)
	}

	switch dec.Action {
	case policy.ActionTombstone, policy.ActionRemove:
		return e.content.SoftDelete(ctx, subjectType, subjectID)
	case policy.ActionShadowHide:
		return e.content.ShadowHide(ctx, subjectType, subjectID)
	case policy.ActionMute:
		if owner == "" {
			return fmt.Errorf("cannot mute: no owner for %s/%s", subjectType, subjectID)
		}
		r, err := e.restrictions.Apply(ctx, owner, models.ScopeGlobal, models.RestrictionMute, firstReason(dec), &e.config.MuteTTL, actorLabel(dec))
		if err != nil {
			return err
		}
		payload["restriction_ids"] = []uint64{r.ID}
		return nil
	case policy.ActionBan:
		if owner == "" {
			return fmt.Errorf("cannot ban: no owner for %s/%s", subjectType, subjectID)
		}
		r, err := e.restrictions.Apply(ctx, owner, models.ScopeGlobal, models.RestrictionBan, firstReason(dec), nil, actorLabel(dec))
		if err != nil {
			return err
		}
		payload["restriction_ids"] = []uint64{r.ID}
		return nil
	case policy.ActionRestrictCreate:
		if owner == "" {
			return fmt.Errorf("cannot restrict: no owner for %s/%s", subjectType, subjectID)
		}
		ttl := e.config.DefaultRestrictTTL
		if raw, ok := dec.Payload["ttl"]; ok {
			if parsed, err := time.ParseDuration(raw); err == nil {
				ttl = parsed
			}
		}
		r, err := e.restrictions.Apply(ctx, owner, models.ScopeGlobal, models.RestrictionRestrictCreate, firstReason(dec), &ttl, actorLabel(dec))
		if err != nil {
			return err
		}
		payload["restriction_ids"] = []uint64{r.ID}
		return nil
	case policy.ActionWarn:
		if owner == "" {
			return fmt.Errorf("cannot warn: no owner for %s/%s", subjectType, subjectID)
		}
		ref := subjectType + "/" + subjectID
		if _, _, err := e.notifier.Persist(ctx, owner, "moderation_warning", ref, nil, map[string]any{"reasons": dec.Reasons}); err != nil {
			return err
		}
		return nil
	case policy.ActionStripLinks, policy.ActionEscalate:
		// no collaborator effect; the audit row (and case status) carry it
		return nil
	}
	return fmt.Errorf("unknown enforcement action: %s", dec.Action)
}

// RunHookFor re-drives the collaborator effect for an existing audit action,
// used by the actions worker to retry failed hooks.
func (e *Enforcer) RunHookFor(ctx context.Context, subjectType, subjectID string, dec policy.Decision) error {
	payload := map[string]any{}
	return e.runHook(ctx, subjectType, subjectID, dec, payload)
}

func (e *Enforcer) appendAction(ctx context.Context, caseID uint64, action string, actorID *string, payload map[string]any) (*models.ModerationAction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	row := models.ModerationAction{
		CaseID:    caseID,
		Action:    action,
		Payload:   raw,
		ActorID:   actorID,
		CreatedAt: time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// AppendAudit writes a standalone audit action (used by revertors and staff
// workflow transitions).
func (e *Enforcer) AppendAudit(ctx context.Context, caseID uint64, action string, actorID *string, payload map[string]any) (*models.ModerationAction, error) {
	return e.appendAction(ctx, caseID, action, actorID, payload)
}

// LatestAction returns the most recent audit row for (case, action), the
// authoritative record for revert lookups.
func (e *Enforcer) LatestAction(ctx context.Context, caseID uint64, action string) (*models.ModerationAction, error) {
	var row models.ModerationAction
	err := e.db.WithContext(ctx).
		Where("case_id = ? AND action = ?", caseID, action).
		Order("id desc").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (e *Enforcer) Content() ContentStore { return e.content }

func (e *Enforcer) Resolver() SubjectResolver { return e.resolver }

func (e *Enforcer) Notifier() *notifs.Sink { return e.notifier }

func (e *Enforcer) Restrictions() *restriction.Service { return e.restrictions }

func firstReason(dec policy.Decision) string {
	if len(dec.Reasons) > 0 {
		return dec.Reasons[0]
	}
	return ""
}

func actorLabel(dec policy.Decision) string {
	if dec.PolicyID != "" {
		return "policy/" + dec.PolicyID
	}
	return "enforcer"
}
