package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and hands them to the hub.
// HandleConnection blocks until the socket closes.
func (s *Server) wsHandler(c echo.Context) error {
	userID := extractUser(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedWSOrigins) > 0 {
		opts.OriginPatterns = s.allowedWSOrigins
	} else {
		// No allowlist configured: local development behind a trusted proxy.
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	_ = s.hub.HandleConnection(c.Request().Context(), conn, userID)
	return nil
}
