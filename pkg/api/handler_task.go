package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/medatlas/synchub/pkg/hub"
)

// createTaskHandler handles POST /api/v1/tasks. The REST layer calls this
// when a client starts a background operation; the executor picks the task
// up out of band and reports through the progress/complete/fail endpoints.
func (s *Server) createTaskHandler(c echo.Context) error {
	userID := extractUser(c)
	if userID == "" {
		return mapServiceError(hub.ErrAuthenticationRequired)
	}

	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	snap, err := s.tracker.Start(req.TaskType, req.ProjectID, userID, req.Params)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, snap)
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c echo.Context) error {
	sessionID := c.PathParam("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	snap, err := s.tracker.StatusOf(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, snap)
}

// reportProgressHandler handles POST /api/v1/tasks/:id/progress, the
// executor's liveness and progress callback.
func (s *Server) reportProgressHandler(c echo.Context) error {
	sessionID := c.PathParam("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req ProgressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.tracker.ReportProgress(sessionID, req.Message); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// completeTaskHandler handles POST /api/v1/tasks/:id/complete.
func (s *Server) completeTaskHandler(c echo.Context) error {
	sessionID := c.PathParam("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.tracker.Complete(sessionID, req.Result, req.Confidence); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// failTaskHandler handles POST /api/v1/tasks/:id/fail.
func (s *Server) failTaskHandler(c echo.Context) error {
	sessionID := c.PathParam("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req FailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Error == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "error is required")
	}

	if err := s.tracker.Fail(sessionID, errors.New(req.Error)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// cancelTaskHandler handles POST /api/v1/tasks/:id/cancel. Cancelling a
// finished task answers 409; the stored result is untouched.
func (s *Server) cancelTaskHandler(c echo.Context) error {
	sessionID := c.PathParam("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled via api"
	}

	if err := s.tracker.Cancel(c.Request().Context(), sessionID, reason); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
