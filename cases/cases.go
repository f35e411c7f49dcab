// Package cases owns the moderation case workflow: report intake and
// aggregation, decision application, staff transitions, and appeals. A case is
// the unit of review; everything that happens to it lands in the append-only
// action log via the enforcer.
package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/countstore"
	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/policy"
)

type Config struct {
	// maximum reports a single reporter may file per UTC day
	ReporterDailyLimit int
}

func DefaultConfig() Config {
	return Config{
		ReporterDailyLimit: 50,
	}
}

type Service struct {
	db       *gorm.DB
	counters countstore.CountStore
	enforcer *enforcer.Enforcer
	events   eventlog.EventLog
	logger   *slog.Logger
	config   Config
}

func NewService(db *gorm.DB, counters countstore.CountStore, enf *enforcer.Enforcer, events eventlog.EventLog, logger *slog.Logger, config Config) *Service {
	return &Service{
		db:       db,
		counters: counters,
		enforcer: enf,
		events:   events,
		logger:   logger.With("system", "cases"),
		config:   config,
	}
}

func openKey(subjectType, subjectID string) string {
	return subjectType + "/" + subjectID
}

// SubmitReport files a user report against a subject, creating a case if no
// open one exists. Re-reports of the same subject by different users pile onto
// the same case; a second report from the same reporter is rejected.
func (s *Service) SubmitReport(ctx context.Context, subjectType, subjectID, reporterID, reasonCode, note string) (*models.ModerationReport, *models.ModerationCase, error) {
	count, err := s.counters.GetCount(ctx, "reports", reporterID, countstore.WindowDay)
	if err != nil {
		return nil, nil, fmt.Errorf("checking reporter budget: %w", err)
	}
	if count >= s.config.ReporterDailyLimit {
		reportsRejected.WithLabelValues("rate_limited").Inc()
		return nil, nil, ErrReportLimitExceeded
	}

	c, err := s.getOrCreateCase(ctx, subjectType, subjectID)
	if err != nil {
		return nil, nil, err
	}

	report := models.ModerationReport{
		CaseID:      c.ID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		ReporterID:  reporterID,
		ReasonCode:  reasonCode,
		Note:        note,
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			reportsRejected.WithLabelValues("duplicate").Inc()
			return nil, nil, ErrDuplicateReport
		}
		return nil, nil, fmt.Errorf("persisting report: %w", err)
	}
	// only a filed report consumes reporter budget; rejected duplicates do not
	if _, err := s.counters.Increment(ctx, "reports", reporterID, countstore.WindowDay); err != nil {
		s.logger.Warn("reporter budget increment failed", "err", err, "reporterID", reporterID)
	}
	reportsSubmitted.WithLabelValues(subjectType).Inc()

	s.emit(ctx, eventlog.StreamReports, map[string]string{
		"report_id":    strconv.FormatUint(report.ID, 10),
		"case_id":      strconv.FormatUint(c.ID, 10),
		"subject_type": subjectType,
		"subject_id":   subjectID,
		"reason_code":  reasonCode,
	})
	return &report, c, nil
}

// getOrCreateCase returns the aggregating case for a subject, creating an open
// one if needed. The unique index on open_key collapses a concurrent
// first-report race onto whichever row committed first.
func (s *Service) getOrCreateCase(ctx context.Context, subjectType, subjectID string) (*models.ModerationCase, error) {
	key := openKey(subjectType, subjectID)

	var c models.ModerationCase
	err := s.db.WithContext(ctx).Where("open_key = ?", key).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	c = models.ModerationCase{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		OpenKey:     &key,
		Status:      models.CaseStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.db.WithContext(ctx).Create(&c).Error
	if err == nil {
		caseTransitions.WithLabelValues(models.CaseStatusOpen).Inc()
		return &c, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost the race; the winner's row is the case
		var winner models.ModerationCase
		if err := s.db.WithContext(ctx).Where("open_key = ?", key).First(&winner).Error; err != nil {
			return nil, err
		}
		return &winner, nil
	}
	return nil, err
}

// ApplyDecision executes a policy decision against a subject: effects via the
// enforcer, then a case status update. A nil actor marks the decision as
// automated. The hook error (if any) is returned alongside the case so callers
// can route a re-drive, but the case and audit rows are committed regardless.
func (s *Service) ApplyDecision(ctx context.Context, subjectType, subjectID string, actorID *string, dec policy.Decision) (*models.ModerationCase, error) {
	if dec.Action == policy.ActionNone {
		return nil, nil
	}

	c, err := s.getOrCreateCase(ctx, subjectType, subjectID)
	if err != nil {
		return nil, err
	}

	_, hookErr := s.enforcer.ApplyDecision(ctx, subjectType, subjectID, c.ID, actorID, dec)

	status := models.CaseStatusActioned
	updates := map[string]any{
		"status":     status,
		"severity":   dec.Severity,
		"policy_id":  dec.PolicyID,
		"updated_at": time.Now(),
	}
	if len(dec.Reasons) > 0 {
		updates["reason"] = dec.Reasons[0]
	}
	if dec.Action == policy.ActionEscalate {
		status = models.CaseStatusEscalated
		updates["status"] = status
		updates["escalation_level"] = gorm.Expr("escalation_level + 1")
	}

	res := s.db.WithContext(ctx).Model(&models.ModerationCase{}).
		Where("id = ? AND status IN ?", c.ID, []string{models.CaseStatusOpen, models.CaseStatusActioned, models.CaseStatusEscalated}).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("updating case status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrWorkflowConflict
	}
	caseTransitions.WithLabelValues(status).Inc()

	if err := s.db.WithContext(ctx).First(c, c.ID).Error; err != nil {
		return nil, err
	}

	stream := eventlog.StreamDecisions
	if dec.Action == policy.ActionEscalate {
		stream = eventlog.StreamEscalations
	}
	s.emit(ctx, stream, map[string]string{
		"case_id":      strconv.FormatUint(c.ID, 10),
		"subject_type": subjectType,
		"subject_id":   subjectID,
		"action":       dec.Action,
		"severity":     dec.Severity,
		"policy_id":    dec.PolicyID,
	})
	if hookErr != nil {
		// the audit row is already committed; route the failed effect to the
		// dead-letter stream for the actions worker to re-drive
		fields := map[string]string{
			"case_id":      strconv.FormatUint(c.ID, 10),
			"subject_type": subjectType,
			"subject_id":   subjectID,
			"action":       dec.Action,
			"severity":     dec.Severity,
			"policy_id":    dec.PolicyID,
			"error":        hookErr.Error(),
		}
		if len(dec.Reasons) > 0 {
			fields["reason"] = dec.Reasons[0]
		}
		if len(dec.Payload) > 0 {
			if raw, err := json.Marshal(dec.Payload); err == nil {
				fields["payload"] = string(raw)
			}
		}
		s.emit(ctx, eventlog.StreamDeadLetter, fields)
		return c, hookErr
	}
	return c, nil
}

// AssignCase hands a non-terminal case to a moderator.
func (s *Service) AssignCase(ctx context.Context, caseID uint64, moderatorID string, actorID *string) error {
	res := s.db.WithContext(ctx).Model(&models.ModerationCase{}).
		Where("id = ? AND status IN ?", caseID, []string{models.CaseStatusOpen, models.CaseStatusActioned, models.CaseStatusEscalated}).
		Updates(map[string]any{"assigned_to": moderatorID, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.conflictOrNotFound(ctx, caseID)
	}
	_, err := s.enforcer.AppendAudit(ctx, caseID, "assign", actorID, map[string]any{"assigned_to": moderatorID})
	return err
}

// EscalateCase bumps an open or actioned case to escalated for senior review.
func (s *Service) EscalateCase(ctx context.Context, caseID uint64, actorID *string, note string) error {
	res := s.db.WithContext(ctx).Model(&models.ModerationCase{}).
		Where("id = ? AND status IN ?", caseID, []string{models.CaseStatusOpen, models.CaseStatusActioned}).
		Updates(map[string]any{
			"status":           models.CaseStatusEscalated,
			"escalation_level": gorm.Expr("escalation_level + 1"),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.conflictOrNotFound(ctx, caseID)
	}
	caseTransitions.WithLabelValues(models.CaseStatusEscalated).Inc()
	if _, err := s.enforcer.AppendAudit(ctx, caseID, "escalate", actorID, map[string]any{"note": note}); err != nil {
		return err
	}
	s.emit(ctx, eventlog.StreamEscalations, map[string]string{
		"case_id": strconv.FormatUint(caseID, 10),
		"action":  "escalate",
	})
	return nil
}

// DismissCase rejects an open case as not actionable. The open_key is cleared
// so a later report opens a fresh case.
func (s *Service) DismissCase(ctx context.Context, caseID uint64, actorID *string, note string) error {
	return s.closeWith(ctx, caseID, models.CaseStatusDismissed, []string{models.CaseStatusOpen}, "dismiss", actorID, note)
}

// CloseCase terminates a case after its outcome (or lack of one) is settled.
func (s *Service) CloseCase(ctx context.Context, caseID uint64, actorID *string, note string) error {
	return s.closeWith(ctx, caseID, models.CaseStatusClosed,
		[]string{models.CaseStatusOpen, models.CaseStatusActioned, models.CaseStatusEscalated}, "close", actorID, note)
}

func (s *Service) closeWith(ctx context.Context, caseID uint64, status string, from []string, auditAction string, actorID *string, note string) error {
	res := s.db.WithContext(ctx).Model(&models.ModerationCase{}).
		Where("id = ? AND status IN ?", caseID, from).
		Updates(map[string]any{
			"status":     status,
			"open_key":   nil,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.conflictOrNotFound(ctx, caseID)
	}
	caseTransitions.WithLabelValues(status).Inc()
	_, err := s.enforcer.AppendAudit(ctx, caseID, auditAction, actorID, map[string]any{"note": note})
	return err
}

// SubmitAppeal opens an appeal on an actioned or escalated case. Only the
// subject's owner may appeal, and a case carries at most one open appeal.
func (s *Service) SubmitAppeal(ctx context.Context, caseID uint64, userID, note string) (*models.ModerationAppeal, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CaseStatusActioned && c.Status != models.CaseStatusEscalated {
		return nil, ErrAppealNotAllowed
	}
	owner, err := s.enforcer.Resolver().ResolveOwner(ctx, c.SubjectType, c.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving subject owner: %w", err)
	}
	if owner == "" || owner != userID {
		return nil, ErrAppealNotAllowed
	}

	var appeal models.ModerationAppeal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationCase{}).
			Where("id = ? AND appeal_open = ?", caseID, false).
			Updates(map[string]any{"appeal_open": true, "appealed_by": userID, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAppealAlreadyOpen
		}
		appeal = models.ModerationAppeal{
			CaseID:      caseID,
			AppellantID: userID,
			Note:        note,
			Status:      models.AppealStatusOpen,
			CreatedAt:   time.Now(),
		}
		return tx.Create(&appeal).Error
	})
	if err != nil {
		return nil, err
	}
	appealsSubmitted.Inc()

	if _, err := s.enforcer.AppendAudit(ctx, caseID, "appeal", &userID, map[string]any{"appeal_id": appeal.ID}); err != nil {
		s.logger.Error("appeal audit write failed", "err", err, "caseID", caseID)
	}
	s.emit(ctx, eventlog.StreamAppeals, map[string]string{
		"appeal_id": strconv.FormatUint(appeal.ID, 10),
		"case_id":   strconv.FormatUint(caseID, 10),
	})
	return &appeal, nil
}

// ResolveAppeal records a reviewer's verdict. Accepting an appeal does not
// itself revert any effect; staff follow up with a revert action, which lands
// in the same audit trail.
func (s *Service) ResolveAppeal(ctx context.Context, appealID uint64, reviewerID, status, note string) (*models.ModerationAppeal, error) {
	if status != models.AppealStatusAccepted && status != models.AppealStatusRejected {
		return nil, fmt.Errorf("invalid appeal resolution %q", status)
	}

	var appeal models.ModerationAppeal
	if err := s.db.WithContext(ctx).First(&appeal, appealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppealNotFound
		}
		return nil, err
	}

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationAppeal{}).
			Where("id = ? AND status = ?", appealID, models.AppealStatusOpen).
			Updates(map[string]any{
				"status":      status,
				"reviewed_by": reviewerID,
				"review_note": note,
				"reviewed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWorkflowConflict
		}
		return tx.Model(&models.ModerationCase{}).
			Where("id = ?", appeal.CaseID).
			Updates(map[string]any{"appeal_open": false, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	appealsResolved.WithLabelValues(status).Inc()

	if _, err := s.enforcer.AppendAudit(ctx, appeal.CaseID, "appeal_resolve", &reviewerID, map[string]any{
		"appeal_id": appealID,
		"status":    status,
	}); err != nil {
		s.logger.Error("appeal audit write failed", "err", err, "caseID", appeal.CaseID)
	}

	if err := s.db.WithContext(ctx).First(&appeal, appealID).Error; err != nil {
		return nil, err
	}
	return &appeal, nil
}

func (s *Service) GetCase(ctx context.Context, caseID uint64) (*models.ModerationCase, error) {
	var c models.ModerationCase
	if err := s.db.WithContext(ctx).First(&c, caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetCaseBySubject returns the most recent case for a subject, open or not.
func (s *Service) GetCaseBySubject(ctx context.Context, subjectType, subjectID string) (*models.ModerationCase, error) {
	var c models.ModerationCase
	err := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Order("id desc").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCases pages newest-first with a keyset cursor (the ID of the last case
// seen; zero starts from the top). Status filter is optional.
func (s *Service) ListCases(ctx context.Context, status string, beforeID uint64, limit int) ([]models.ModerationCase, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&models.ModerationCase{}).Order("id desc").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var out []models.ModerationCase
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListReports returns all reports filed against a case, oldest first.
func (s *Service) ListReports(ctx context.Context, caseID uint64) ([]models.ModerationReport, error) {
	var out []models.ModerationReport
	err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("id asc").Find(&out).Error
	return out, err
}

// ListActions returns the full audit trail for a case, oldest first.
func (s *Service) ListActions(ctx context.Context, caseID uint64) ([]models.ModerationAction, error) {
	var out []models.ModerationAction
	err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("id asc").Find(&out).Error
	return out, err
}

func (s *Service) Enforcer() *enforcer.Enforcer { return s.enforcer }

func (s *Service) conflictOrNotFound(ctx context.Context, caseID uint64) error {
	var c models.ModerationCase
	if err := s.db.WithContext(ctx).First(&c, caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCaseNotFound
		}
		return err
	}
	return ErrWorkflowConflict
}

func (s *Service) emit(ctx context.Context, stream string, fields map[string]string) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Append(ctx, stream, fields); err != nil {
		s.logger.Warn("event append failed", "err", err, "stream", stream)
	}
}
