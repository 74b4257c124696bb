package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/medatlas/synchub/pkg/store"
	"github.com/medatlas/synchub/pkg/version"
)

// healthHandler handles GET /api/v1/healthz.
func (s *Server) healthHandler(c echo.Context) error {
	body := map[string]any{
		"status":             "healthy",
		"version":            version.Full(),
		"active_connections": s.hub.Registry().ActiveConnections(),
		"active_tasks":       s.tracker.ActiveTasks(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := store.Health(ctx, s.db)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}

	return c.JSON(http.StatusOK, body)
}
