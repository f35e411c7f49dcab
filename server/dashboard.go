package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/haven-social/guardrail/models"
)

type dashboardKPIs struct {
	OpenCases          int64 `json:"open_cases"`
	EscalatedCases     int64 `json:"escalated_cases"`
	ActionsToday       int64 `json:"actions_today"`
	AppealBacklog      int64 `json:"appeal_backlog"`
	ActiveRestrictions int64 `json:"active_restrictions"`
	ReportsToday       int64 `json:"reports_today"`
}

func (srv *Server) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	db := srv.db.WithContext(ctx)
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	var kpis dashboardKPIs
	if err := db.Model(&models.ModerationCase{}).Where("status = ?", models.CaseStatusOpen).Count(&kpis.OpenCases).Error; err != nil {
		return err
	}
	if err := db.Model(&models.ModerationCase{}).Where("status = ?", models.CaseStatusEscalated).Count(&kpis.EscalatedCases).Error; err != nil {
		return err
	}
	if err := db.Model(&models.ModerationAction{}).Where("created_at >= ?", midnight).Count(&kpis.ActionsToday).Error; err != nil {
		return err
	}
	if err := db.Model(&models.ModerationAppeal{}).Where("status = ?", models.AppealStatusOpen).Count(&kpis.AppealBacklog).Error; err != nil {
		return err
	}
	now := time.Now()
	if err := db.Model(&models.Restriction{}).
		Where("revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", now).
		Count(&kpis.ActiveRestrictions).Error; err != nil {
		return err
	}
	if err := db.Model(&models.ModerationReport{}).Where("created_at >= ?", midnight).Count(&kpis.ReportsToday).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, kpis)
}

// handleDashboardExport streams a CSV of actions per day per action name, for
// spreadsheet digestion. Days defaults to 30.
func (srv *Server) handleDashboardExport(c echo.Context) error {
	days := parseLimit(c.QueryParam("days"), 30, 365)
	since := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -days)

	var rows []struct {
		Day    string
		Action string
		Count  int64
	}
	err := srv.db.WithContext(c.Request().Context()).
		Model(&models.ModerationAction{}).
		Select("date(created_at) AS day, action, count(*) AS count").
		Where("created_at >= ?", since).
		Group("day, action").
		Order("day asc, action asc").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=actions-%dd.csv", days))
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write([]string{"day", "action", "count"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Day, row.Action, strconv.FormatInt(row.Count, 10)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
