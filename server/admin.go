package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/haven-social/guardrail/admin"
	"github.com/haven-social/guardrail/cases"
)

func (srv *Server) handleListCatalog(c echo.Context) error {
	records, err := srv.catalog.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": records})
}

type createCatalogRequest struct {
	Key       string          `json:"key"`
	Version   int             `json:"version"`
	Kind      string          `json:"kind"`
	Spec      json.RawMessage `json:"spec"`
	CreatedBy string          `json:"created_by"`
}

func (srv *Server) handleCreateCatalogVersion(c echo.Context) error {
	var req createCatalogRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Key == "" || req.Kind == "" || len(req.Spec) == 0 {
		return fmt.Errorf("%w: key, kind, spec are required", errBadRequest)
	}
	rec, err := srv.catalog.CreateVersion(c.Request().Context(), req.Key, req.Version, req.Kind, req.Spec, req.CreatedBy)
	if err != nil {
		if errors.Is(err, admin.ErrVersionExists) {
			return err
		}
		// spec validation failures are client errors
		return fmt.Errorf("%w: %s", errBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (srv *Server) handleDeactivateCatalogVersion(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		return fmt.Errorf("%w: bad version %q", errBadRequest, c.Param("version"))
	}
	if err := srv.catalog.Deactivate(c.Request().Context(), c.Param("key"), version); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type macroRequest struct {
	Version int               `json:"version"`
	Targets []admin.TargetRef `json:"targets"`
	Vars    map[string]string `json:"vars"`
	ActorID string            `json:"actor_id"`
}

func (srv *Server) handleSimulateMacro(c echo.Context) error {
	var req macroRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.Targets) == 0 {
		return fmt.Errorf("%w: targets are required", errBadRequest)
	}
	plans, err := srv.executor.SimulateMacro(c.Request().Context(), c.Param("key"), req.Version, req.Targets, req.Vars)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"plans": plans, "dry_run": true})
}

func (srv *Server) handleRunMacro(c echo.Context) error {
	var req macroRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.Targets) == 0 {
		return fmt.Errorf("%w: targets are required", errBadRequest)
	}
	if req.ActorID == "" {
		return fmt.Errorf("%w: actor_id is required", errBadRequest)
	}
	plans, err := srv.executor.RunMacro(c.Request().Context(), c.Param("key"), req.Version, req.Targets, req.Vars, &req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"plans": plans})
}

type revertRequest struct {
	CaseID  uint64 `json:"case_id"`
	Action  string `json:"action"`
	ActorID string `json:"actor_id"`
}

func (srv *Server) handleRevert(c echo.Context) error {
	var req revertRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.CaseID == 0 || req.Action == "" || req.ActorID == "" {
		return fmt.Errorf("%w: case_id, action, actor_id are required", errBadRequest)
	}
	audit, err := srv.revertors.Revert(c.Request().Context(), req.CaseID, req.Action, &req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, audit)
}

type batchRequest struct {
	Targets    []admin.TargetRef `json:"targets"`
	Action     string            `json:"action,omitempty"`
	DryRun     bool              `json:"dry_run"`
	SampleSize int               `json:"sample_size"`
	Note       string            `json:"note"`
	CreatedBy  string            `json:"created_by"`
}

func (req *batchRequest) options() (admin.JobOptions, error) {
	if len(req.Targets) == 0 {
		return admin.JobOptions{}, fmt.Errorf("%w: targets are required", errBadRequest)
	}
	if req.CreatedBy == "" {
		return admin.JobOptions{}, fmt.Errorf("%w: created_by is required", errBadRequest)
	}
	return admin.JobOptions{
		DryRun:     req.DryRun,
		SampleSize: req.SampleSize,
		Note:       req.Note,
		CreatedBy:  req.CreatedBy,
	}, nil
}

// handleBatchRevert reverts one action name across many subjects. Targets are
// subjects, not cases; each item resolves its subject's most recent case.
func (srv *Server) handleBatchRevert(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	opts, err := req.options()
	if err != nil {
		return err
	}
	if req.Action == "" {
		return fmt.Errorf("%w: action is required", errBadRequest)
	}
	actor := req.CreatedBy
	job, err := srv.scheduler.Run(c.Request().Context(), "revert:"+req.Action, req.Targets, opts, func(ctx context.Context, target admin.TargetRef) (map[string]any, error) {
		kase, err := srv.cases.GetCaseBySubject(ctx, target.Type, target.ID)
		if err != nil {
			return nil, err
		}
		audit, err := srv.revertors.Revert(ctx, kase.ID, req.Action, &actor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"case_id": kase.ID, "audit_action_id": audit.ID}, nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// handleBatchUnshadow clears shadow state on many subjects at once, the bulk
// remedy after a misfiring detector.
func (srv *Server) handleBatchUnshadow(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	opts, err := req.options()
	if err != nil {
		return err
	}
	actor := req.CreatedBy
	job, err := srv.scheduler.Run(c.Request().Context(), "unshadow", req.Targets, opts, func(ctx context.Context, target admin.TargetRef) (map[string]any, error) {
		if err := srv.enforcer.Content().Unhide(ctx, target.Type, target.ID); err != nil {
			return nil, err
		}
		result := map[string]any{"unhidden": true}
		// record the unshadow on the subject's case when one exists
		if kase, err := srv.cases.GetCaseBySubject(ctx, target.Type, target.ID); err == nil {
			if _, err := srv.enforcer.AppendAudit(ctx, kase.ID, "unshadow", &actor, map[string]any{
				"subject_type": target.Type,
				"subject_id":   target.ID,
			}); err == nil {
				result["case_id"] = kase.ID
			}
		} else if !errors.Is(err, cases.ErrCaseNotFound) {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (srv *Server) handleGetJob(c echo.Context) error {
	job, err := srv.scheduler.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	items, err := srv.scheduler.ListItems(c.Request().Context(), job.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"job": job, "items": items})
}

func (srv *Server) handleExportBundle(c echo.Context) error {
	raw, err := srv.catalog.ExportBundle(c.Request().Context(), srv.config.BundleSecret)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/yaml", raw)
}

func (srv *Server) handleImportBundle(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return err
	}
	dryRun := c.QueryParam("dry_run") == "true"
	createdBy := c.QueryParam("created_by")
	diff, err := srv.catalog.ImportBundle(c.Request().Context(), raw, srv.config.BundleSecret, createdBy, dryRun)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"diff": diff, "dry_run": dryRun})
}
