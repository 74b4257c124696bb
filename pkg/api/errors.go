package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/medatlas/synchub/pkg/hub"
	"github.com/medatlas/synchub/pkg/tracker"
)

// mapServiceError maps hub and tracker errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, tracker.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if errors.Is(err, tracker.ErrAlreadyTerminal) {
		return echo.NewHTTPError(http.StatusConflict, "task has already finished")
	}
	if errors.Is(err, tracker.ErrUnknownTaskType) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown task type")
	}
	if errors.Is(err, hub.ErrAuthenticationRequired) {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if errors.Is(err, hub.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
