// Package server exposes the staff/admin HTTP API over echo. Product traffic
// never hits this surface; the write gate is called in-process by the content
// services. Domain errors map to stable string codes with 4xx statuses so
// dashboard clients can branch on them.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"

	"github.com/haven-social/guardrail/admin"
	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/reputation"
	"github.com/haven-social/guardrail/restriction"
)

type Config struct {
	Bind string
	// shared secret for bundle signing; empty disables signatures
	BundleSecret string
}

func DefaultConfig() Config {
	return Config{
		Bind: ":8700",
	}
}

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
	config Config

	db           *gorm.DB
	cases        *cases.Service
	rep          *reputation.Service
	restrictions *restriction.Service
	enforcer     *enforcer.Enforcer
	catalog      *admin.Catalog
	executor     *admin.Executor
	revertors    *admin.Revertors
	scheduler    *admin.Scheduler
}

func NewServer(db *gorm.DB, cs *cases.Service, rep *reputation.Service, restrictions *restriction.Service, enf *enforcer.Enforcer, catalog *admin.Catalog, executor *admin.Executor, revertors *admin.Revertors, scheduler *admin.Scheduler, logger *slog.Logger, config Config) *Server {
	srv := &Server{
		logger:       logger.With("system", "server"),
		config:       config,
		db:           db,
		cases:        cs,
		rep:          rep,
		restrictions: restrictions,
		enforcer:     enf,
		catalog:      catalog,
		executor:     executor,
		revertors:    revertors,
		scheduler:    scheduler,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4M"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.handleHealthCheck)

	api := e.Group("/api")
	api.POST("/reports", srv.handleSubmitReport)

	api.GET("/cases", srv.handleListCases)
	api.GET("/cases/:id", srv.handleGetCase)
	api.GET("/cases/:id/reports", srv.handleListCaseReports)
	api.GET("/cases/:id/actions", srv.handleListCaseActions)
	api.POST("/cases/:id/assign", srv.handleAssignCase)
	api.POST("/cases/:id/escalate", srv.handleEscalateCase)
	api.POST("/cases/:id/dismiss", srv.handleDismissCase)
	api.POST("/cases/:id/close", srv.handleCloseCase)
	api.POST("/cases/:id/appeal", srv.handleSubmitAppeal)
	api.POST("/appeals/:id/resolve", srv.handleResolveAppeal)

	api.GET("/users/:id/reputation", srv.handleGetReputation)
	api.POST("/users/:id/reputation/adjust", srv.handleAdjustReputation)
	api.GET("/users/:id/reputation/events", srv.handleListReputationEvents)

	api.GET("/users/:id/restrictions", srv.handleListRestrictions)
	api.POST("/users/:id/restrictions", srv.handleApplyRestriction)
	api.POST("/restrictions/:id/revoke", srv.handleRevokeRestriction)

	api.GET("/audit", srv.handleAuditQuery)
	api.GET("/dashboard", srv.handleDashboard)
	api.GET("/dashboard/export.csv", srv.handleDashboardExport)

	adm := api.Group("/admin")
	adm.GET("/catalog", srv.handleListCatalog)
	adm.POST("/catalog", srv.handleCreateCatalogVersion)
	adm.POST("/catalog/:key/:version/deactivate", srv.handleDeactivateCatalogVersion)
	adm.POST("/macros/:key/simulate", srv.handleSimulateMacro)
	adm.POST("/macros/:key/run", srv.handleRunMacro)
	adm.POST("/revert", srv.handleRevert)
	adm.POST("/jobs/revert", srv.handleBatchRevert)
	adm.POST("/jobs/unshadow", srv.handleBatchUnshadow)
	adm.GET("/jobs/:id", srv.handleGetJob)
	adm.GET("/bundles/export", srv.handleExportBundle)
	adm.POST("/bundles/import", srv.handleImportBundle)

	srv.echo = e
	srv.httpd = &http.Server{
		Handler:        e,
		Addr:           config.Bind,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 1 << 20,
	}
	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// RunAPI serves until ctx is canceled, then drains in-flight requests.
func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting API server", "bind", srv.httpd.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.httpd.Shutdown(shutdownCtx)
	}
}

type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// errorHandler maps domain errors to stable codes. Anything unrecognized is an
// opaque 500; internals never leak to clients.
func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code := classifyError(err)
	if status >= 500 {
		srv.logger.Error("request failed", "err", err, "path", c.Path())
		_ = c.JSON(status, apiError{Code: code, Message: "internal error"})
		return
	}
	_ = c.JSON(status, apiError{Code: code, Message: err.Error()})
}

func classifyError(err error) (int, string) {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		if httpErr.Code == http.StatusNotFound {
			return http.StatusNotFound, "not_found"
		}
		return httpErr.Code, "bad_request"
	case errors.Is(err, cases.ErrCaseNotFound):
		return http.StatusNotFound, "case_not_found"
	case errors.Is(err, cases.ErrAppealNotFound):
		return http.StatusNotFound, "appeal_not_found"
	case errors.Is(err, cases.ErrDuplicateReport):
		return http.StatusConflict, "duplicate_report"
	case errors.Is(err, cases.ErrReportLimitExceeded):
		return http.StatusTooManyRequests, "report_limit_exceeded"
	case errors.Is(err, cases.ErrAppealAlreadyOpen):
		return http.StatusConflict, "appeal_already_open"
	case errors.Is(err, cases.ErrAppealNotAllowed):
		return http.StatusForbidden, "appeal_not_allowed"
	case errors.Is(err, cases.ErrWorkflowConflict):
		return http.StatusConflict, "workflow_conflict"
	case errors.Is(err, restriction.ErrRestrictionNotFound):
		return http.StatusNotFound, "restriction_not_found"
	case errors.Is(err, reputation.ErrDeltaOutOfRange):
		return http.StatusBadRequest, "delta_out_of_range"
	case errors.Is(err, admin.ErrActionNotFound):
		return http.StatusNotFound, "catalog_action_not_found"
	case errors.Is(err, admin.ErrVersionExists):
		return http.StatusConflict, "catalog_version_exists"
	case errors.Is(err, admin.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, admin.ErrBadSignature):
		return http.StatusBadRequest, "bundle_bad_signature"
	case errors.Is(err, admin.ErrUnknownRevertAction):
		return http.StatusBadRequest, "unknown_revert_action"
	case errors.Is(err, admin.ErrNothingToRevert):
		return http.StatusNotFound, "nothing_to_revert"
	case errors.Is(err, errBadCursor):
		return http.StatusBadRequest, "bad_cursor"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (srv *Server) handleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
