package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/policy"
)

// Actions re-drives enforcement hooks that failed on first application. The
// audit row for the original decision already exists; only the collaborator
// effect is retried, and a successful re-drive appends its own audit row.
type Actions struct {
	enforcer *enforcer.Enforcer
	logger   *slog.Logger
}

func NewActions(enf *enforcer.Enforcer, logger *slog.Logger) *Actions {
	return &Actions{enforcer: enf, logger: logger.With("system", "workers")}
}

func NewActionsWorker(a *Actions, log eventlog.EventLog, cursors eventlog.CursorStore, logger *slog.Logger) *Worker {
	return New("actions", eventlog.StreamDeadLetter, log, cursors, a.Handle, logger)
}

func (a *Actions) Handle(ctx context.Context, entry eventlog.Entry) error {
	action := entry.Fields["action"]
	subjectType := entry.Fields["subject_type"]
	subjectID := entry.Fields["subject_id"]
	if action == "" || subjectType == "" || subjectID == "" {
		// not a hook failure (e.g. a dead-lettered ingress entry); leave it
		// for operator inspection
		a.logger.Warn("skipping non-redrivable dead-letter entry", "entryID", entry.ID, "originStream", entry.Fields["origin_stream"])
		return nil
	}

	dec := policy.Decision{
		Action:   action,
		Severity: entry.Fields["severity"],
		PolicyID: entry.Fields["policy_id"],
	}
	if reason := entry.Fields["reason"]; reason != "" {
		dec.Reasons = []string{reason}
	}
	if raw := entry.Fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &dec.Payload); err != nil {
			return fmt.Errorf("decoding dead-letter payload: %w", err)
		}
	}

	if err := a.enforcer.RunHookFor(ctx, subjectType, subjectID, dec); err != nil {
		hookRedrives.WithLabelValues("error").Inc()
		return fmt.Errorf("re-driving %s hook for %s/%s: %w", action, subjectType, subjectID, err)
	}
	hookRedrives.WithLabelValues("ok").Inc()

	if caseID, err := strconv.ParseUint(entry.Fields["case_id"], 10, 64); err == nil && caseID > 0 {
		if _, err := a.enforcer.AppendAudit(ctx, caseID, "hook_redrive", nil, map[string]any{
			"action":       action,
			"subject_type": subjectType,
			"subject_id":   subjectID,
		}); err != nil {
			a.logger.Error("re-drive audit write failed", "err", err, "caseID", caseID)
		}
	}
	return nil
}
