package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/medatlas/synchub/pkg/hub"
)

// publishProjectEventHandler handles POST /api/v1/projects/:id/events. The
// project-mutation service calls this to announce edits to dashboard
// subscribers.
func (s *Server) publishProjectEventHandler(c echo.Context) error {
	projectID := c.PathParam("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	var req ProjectEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	evt, err := s.hub.Broadcaster().Publish(hub.ProjectTopic(projectID), hub.EnvelopeProjectUpdated, req.Data)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"topic": evt.Topic,
		"seq":   evt.Seq,
	})
}

// listProjectTasksHandler handles GET /api/v1/projects/:id/tasks, serving
// the durable archive so clients can reload full state after a resync.
func (s *Server) listProjectTasksHandler(c echo.Context) error {
	projectID := c.PathParam("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}
	if s.taskStore == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task archive not available")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1-500")
		}
		limit = n
	}

	snaps, err := s.taskStore.ListByProject(c.Request().Context(), projectID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": snaps})
}

// retireProjectTopicHandler handles DELETE /api/v1/projects/:id/topic,
// called when the project itself is deleted: subscribers are released and
// the replay history discarded.
func (s *Server) retireProjectTopicHandler(c echo.Context) error {
	projectID := c.PathParam("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	s.hub.Broadcaster().RetireTopic(hub.ProjectTopic(projectID))
	return c.NoContent(http.StatusNoContent)
}
