package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/notifs"
)

// StaffNotify fans moderation events out to staff inboxes. Report events go
// to the case assignee when one exists; escalations and appeals always fan
// out to the full staff list.
type StaffNotify struct {
	cases    *cases.Service
	notifier *notifs.Sink
	staff    []string
	logger   *slog.Logger
}

func NewStaffNotify(cs *cases.Service, notifier *notifs.Sink, staff []string, logger *slog.Logger) *StaffNotify {
	return &StaffNotify{
		cases:    cs,
		notifier: notifier,
		staff:    staff,
		logger:   logger.With("system", "workers"),
	}
}

func NewReportsWorker(sn *StaffNotify, log eventlog.EventLog, cursors eventlog.CursorStore, logger *slog.Logger) *Worker {
	return New("reports", eventlog.StreamReports, log, cursors, sn.HandleReport, logger)
}

func NewEscalationWorker(sn *StaffNotify, log eventlog.EventLog, cursors eventlog.CursorStore, logger *slog.Logger) *Worker {
	return New("escalation", eventlog.StreamEscalations, log, cursors, sn.HandleEscalation, logger)
}

func NewAppealsWorker(sn *StaffNotify, log eventlog.EventLog, cursors eventlog.CursorStore, logger *slog.Logger) *Worker {
	return New("appeals", eventlog.StreamAppeals, log, cursors, sn.HandleAppeal, logger)
}

func (sn *StaffNotify) HandleReport(ctx context.Context, entry eventlog.Entry) error {
	caseID, err := parseCaseID(entry)
	if err != nil {
		return err
	}
	c, err := sn.cases.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	ref := "case/" + strconv.FormatUint(caseID, 10)
	payload := map[string]any{
		"subject_type": c.SubjectType,
		"subject_id":   c.SubjectID,
		"reason_code":  entry.Fields["reason_code"],
	}
	if c.AssignedTo != nil {
		sn.persist(ctx, *c.AssignedTo, "case_report", ref, payload)
		return nil
	}
	sn.fanOut(ctx, "case_report", ref, payload)
	return nil
}

func (sn *StaffNotify) HandleEscalation(ctx context.Context, entry eventlog.Entry) error {
	caseID, err := parseCaseID(entry)
	if err != nil {
		return err
	}
	ref := "case/" + strconv.FormatUint(caseID, 10)
	sn.fanOut(ctx, "case_escalated", ref, map[string]any{
		"subject_type": entry.Fields["subject_type"],
		"subject_id":   entry.Fields["subject_id"],
	})
	return nil
}

func (sn *StaffNotify) HandleAppeal(ctx context.Context, entry eventlog.Entry) error {
	caseID, err := parseCaseID(entry)
	if err != nil {
		return err
	}
	ref := "case/" + strconv.FormatUint(caseID, 10)
	sn.fanOut(ctx, "appeal_submitted", ref, map[string]any{
		"appeal_id": entry.Fields["appeal_id"],
	})
	return nil
}

// fanOut is best effort per recipient; the sink's own dedupe keeps repeat
// deliveries of a re-read batch from doubling up.
func (sn *StaffNotify) fanOut(ctx context.Context, typ, ref string, payload map[string]any) {
	for _, staffID := range sn.staff {
		sn.persist(ctx, staffID, typ, ref, payload)
	}
}

func (sn *StaffNotify) persist(ctx context.Context, userID, typ, ref string, payload map[string]any) {
	if _, _, err := sn.notifier.Persist(ctx, userID, typ, ref, nil, payload); err != nil {
		sn.logger.Warn("staff notification failed", "err", err, "userID", userID, "type", typ, "ref", ref)
	}
}

func parseCaseID(entry eventlog.Entry) (uint64, error) {
	raw := entry.Fields["case_id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("entry %s has bad case_id %q", entry.ID, raw)
	}
	return id, nil
}
