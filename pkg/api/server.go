// Package api exposes the synchronization service over HTTP: the WebSocket
// endpoint, the command entrypoints used by the REST layer and the task
// executor, health, and Prometheus metrics.
package api

import (
	"database/sql"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medatlas/synchub/pkg/hub"
	"github.com/medatlas/synchub/pkg/store"
	"github.com/medatlas/synchub/pkg/tracker"
)

// Server wires HTTP routes to the hub and the tracker.
type Server struct {
	echo    *echo.Echo
	hub     *hub.Hub
	tracker *tracker.Tracker

	// taskStore serves archived task queries; nil when running without a
	// database.
	taskStore *store.TaskStore
	db        *sql.DB

	allowedWSOrigins []string
}

// Options carries the optional collaborators for NewServer.
type Options struct {
	TaskStore        *store.TaskStore
	DB               *sql.DB
	MetricsGatherer  prometheus.Gatherer
	AllowedWSOrigins []string
}

// NewServer builds the HTTP server around the hub and tracker.
func NewServer(h *hub.Hub, tr *tracker.Tracker, opts Options) *Server {
	s := &Server{
		echo:             echo.New(),
		hub:              h,
		tracker:          tr,
		taskStore:        opts.TaskStore,
		db:               opts.DB,
		allowedWSOrigins: opts.AllowedWSOrigins,
	}

	s.echo.Use(securityHeaders())

	s.echo.GET("/ws", s.wsHandler)
	s.echo.GET("/api/v1/healthz", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.createTaskHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.POST("/tasks/:id/progress", s.reportProgressHandler)
	v1.POST("/tasks/:id/complete", s.completeTaskHandler)
	v1.POST("/tasks/:id/fail", s.failTaskHandler)
	v1.POST("/tasks/:id/cancel", s.cancelTaskHandler)

	v1.POST("/projects/:id/events", s.publishProjectEventHandler)
	v1.GET("/projects/:id/tasks", s.listProjectTasksHandler)
	v1.DELETE("/projects/:id/topic", s.retireProjectTopicHandler)

	if opts.MetricsGatherer != nil {
		metrics := promhttp.HandlerFor(opts.MetricsGatherer, promhttp.HandlerOpts{})
		s.echo.GET("/metrics", func(c echo.Context) error {
			metrics.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	return s
}

// Handler returns the root http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}
