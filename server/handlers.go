package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/haven-social/guardrail/models"
)

type submitReportRequest struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	ReporterID  string `json:"reporter_id"`
	ReasonCode  string `json:"reason_code"`
	Note        string `json:"note"`
}

func (srv *Server) handleSubmitReport(c echo.Context) error {
	var req submitReportRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.SubjectType == "" || req.SubjectID == "" || req.ReporterID == "" || req.ReasonCode == "" {
		return fmt.Errorf("%w: subject_type, subject_id, reporter_id, reason_code are required", errBadRequest)
	}
	report, kase, err := srv.cases.SubmitReport(c.Request().Context(), req.SubjectType, req.SubjectID, req.ReporterID, req.ReasonCode, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"report": report,
		"case":   kase,
	})
}

type pageMeta struct {
	Cursor string `json:"cursor,omitempty"`
}

func (srv *Server) handleListCases(c echo.Context) error {
	beforeID, err := decodeIDCursor(c.QueryParam("cursor"))
	if err != nil {
		return err
	}
	limit := parseLimit(c.QueryParam("limit"), 50, 100)
	out, err := srv.cases.ListCases(c.Request().Context(), c.QueryParam("status"), beforeID, limit)
	if err != nil {
		return err
	}
	page := pageMeta{}
	if len(out) == limit {
		page.Cursor = idCursor(out[len(out)-1].ID)
	}
	return c.JSON(http.StatusOK, map[string]any{"cases": out, "page": page})
}

func (srv *Server) handleGetCase(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	kase, err := srv.cases.GetCase(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, kase)
}

func (srv *Server) handleListCaseReports(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	if _, err := srv.cases.GetCase(c.Request().Context(), id); err != nil {
		return err
	}
	reports, err := srv.cases.ListReports(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"reports": reports})
}

func (srv *Server) handleListCaseActions(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	if _, err := srv.cases.GetCase(c.Request().Context(), id); err != nil {
		return err
	}
	actions, err := srv.cases.ListActions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": actions})
}

type caseTransitionRequest struct {
	ModeratorID string `json:"moderator_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Note        string `json:"note,omitempty"`
}

func (req *caseTransitionRequest) actor() (*string, error) {
	if req.ActorID == "" {
		return nil, fmt.Errorf("%w: actor_id is required", errBadRequest)
	}
	return &req.ActorID, nil
}

func (srv *Server) handleAssignCase(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var req caseTransitionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	actor, err := req.actor()
	if err != nil {
		return err
	}
	if req.ModeratorID == "" {
		return fmt.Errorf("%w: moderator_id is required", errBadRequest)
	}
	if err := srv.cases.AssignCase(c.Request().Context(), id, req.ModeratorID, actor); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) handleEscalateCase(c echo.Context) error {
	return srv.transitionCase(c, srv.cases.EscalateCase)
}

func (srv *Server) handleDismissCase(c echo.Context) error {
	return srv.transitionCase(c, srv.cases.DismissCase)
}

func (srv *Server) handleCloseCase(c echo.Context) error {
	return srv.transitionCase(c, srv.cases.CloseCase)
}

func (srv *Server) transitionCase(c echo.Context, fn func(ctx context.Context, caseID uint64, actorID *string, note string) error) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var req caseTransitionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	actor, err := req.actor()
	if err != nil {
		return err
	}
	if err := fn(c.Request().Context(), id, actor, req.Note); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type appealRequest struct {
	UserID string `json:"user_id"`
	Note   string `json:"note"`
}

func (srv *Server) handleSubmitAppeal(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var req appealRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", errBadRequest)
	}
	appeal, err := srv.cases.SubmitAppeal(c.Request().Context(), id, req.UserID, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appeal)
}

type resolveAppealRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Status     string `json:"status"`
	Note       string `json:"note"`
}

func (srv *Server) handleResolveAppeal(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var req resolveAppealRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.ReviewerID == "" || req.Status == "" {
		return fmt.Errorf("%w: reviewer_id and status are required", errBadRequest)
	}
	if req.Status != models.AppealStatusAccepted && req.Status != models.AppealStatusRejected {
		return fmt.Errorf("%w: status must be accepted or rejected", errBadRequest)
	}
	appeal, err := srv.cases.ResolveAppeal(c.Request().Context(), id, req.ReviewerID, req.Status, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appeal)
}

func (srv *Server) handleGetReputation(c echo.Context) error {
	score, err := srv.rep.GetOrCreate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, score)
}

type adjustReputationRequest struct {
	Delta   int    `json:"delta"`
	Note    string `json:"note"`
	ActorID string `json:"actor_id"`
}

func (srv *Server) handleAdjustReputation(c echo.Context) error {
	var req adjustReputationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.ActorID == "" {
		return fmt.Errorf("%w: actor_id is required", errBadRequest)
	}
	score, err := srv.rep.AdjustManual(c.Request().Context(), c.Param("id"), req.Delta, req.Note, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, score)
}

func (srv *Server) handleListReputationEvents(c echo.Context) error {
	beforeID, err := decodeIDCursor(c.QueryParam("cursor"))
	if err != nil {
		return err
	}
	limit := parseLimit(c.QueryParam("limit"), 50, 200)
	events, err := srv.rep.ListRecentEvents(c.Request().Context(), c.Param("id"), beforeID, limit)
	if err != nil {
		return err
	}
	page := pageMeta{}
	if len(events) == limit {
		page.Cursor = idCursor(events[len(events)-1].ID)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events, "page": page})
}

func (srv *Server) handleListRestrictions(c echo.Context) error {
	active, err := srv.restrictions.ListActive(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"restrictions": active})
}

type applyRestrictionRequest struct {
	Scope     string `json:"scope"`
	Mode      string `json:"mode"`
	Reason    string `json:"reason"`
	TTL       string `json:"ttl,omitempty"`
	CreatedBy string `json:"created_by"`
}

func (srv *Server) handleApplyRestriction(c echo.Context) error {
	var req applyRestrictionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Scope == "" || req.Mode == "" || req.CreatedBy == "" {
		return fmt.Errorf("%w: scope, mode, created_by are required", errBadRequest)
	}
	var ttl *time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%w: bad ttl %q", errBadRequest, req.TTL)
		}
		ttl = &parsed
	}
	r, err := srv.restrictions.Apply(c.Request().Context(), c.Param("id"), req.Scope, req.Mode, req.Reason, ttl, req.CreatedBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (srv *Server) handleRevokeRestriction(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	if err := srv.restrictions.Revoke(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleAuditQuery pages the append-only action log, optionally filtered by
// case or action name.
func (srv *Server) handleAuditQuery(c echo.Context) error {
	beforeID, err := decodeIDCursor(c.QueryParam("cursor"))
	if err != nil {
		return err
	}
	limit := parseLimit(c.QueryParam("limit"), 50, 200)

	q := srv.db.WithContext(c.Request().Context()).Model(&models.ModerationAction{}).Order("id desc").Limit(limit)
	if raw := c.QueryParam("case_id"); raw != "" {
		caseID, err := parseID(raw)
		if err != nil {
			return err
		}
		q = q.Where("case_id = ?", caseID)
	}
	if action := c.QueryParam("action"); action != "" {
		q = q.Where("action = ?", action)
	}
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var actions []models.ModerationAction
	if err := q.Find(&actions).Error; err != nil {
		return err
	}
	page := pageMeta{}
	if len(actions) == limit {
		page.Cursor = idCursor(actions[len(actions)-1].ID)
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": actions, "page": page})
}
