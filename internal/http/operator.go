package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/dispatcher"
)

var auditLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

type auditlogRequest struct {
	Message string `json:"message"`
	Level   string `json:"level"`
	User    string `json:"user"`
	Patient string `json:"patient"`
}

// auditlogHandler lets client applications record events in the same
// audit channel internal events land in.
func auditlogHandler(a *audit.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req auditlogRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "missing JSON data"})
		}
		if req.Message == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "missing required 'message' in post"})
		}
		level := strings.ToLower(req.Level)
		if level == "" {
			level = "info"
		}
		if !auditLevels[level] {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "unknown logging level: " + req.Level})
		}

		extra := map[string]any{}
		if req.User != "" {
			extra["user"] = req.User
		}
		if req.Patient != "" {
			extra["patient"] = req.Patient
		}
		a.Entry(req.Message, level, extra)
		return c.JSON(http.StatusOK, map[string]string{"message": "ok"})
	}
}

func listAuditEventsHandler(a *audit.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		level := strings.ToLower(strings.TrimSpace(c.QueryParam("level")))
		if level != "" && !auditLevels[level] {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown level: " + level})
		}

		events, err := a.List(c.Request().Context(), level, limit, offset)
		if err != nil {
			c.Logger().Errorf("audit event list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}

// dispatchHandler triggers a due-request sweep, for operators and cron.
func dispatchHandler(d *dispatcher.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		successes, failures := d.ExecuteDueRequests(c.Request().Context())
		return c.JSON(http.StatusOK, map[string]any{
			"executed": successes,
			"errors":   failures,
		})
	}
}
