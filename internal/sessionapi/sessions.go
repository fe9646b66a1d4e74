// Package sessionapi exposes the session lifecycle operations to the CRM.
// Handlers only read registry state or delegate; they never mutate session
// fields directly.
package sessionapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/walinkd/internal/qr"
	"github.com/talkincode/walinkd/internal/registry"
	"github.com/talkincode/walinkd/internal/webserver"
	"go.uber.org/zap"
)

type Handler struct {
	reg       *registry.Registry
	version   string
	qrMinSize int
}

// Register wires all session routes onto the web server.
func Register(s *webserver.WebServer, reg *registry.Registry, version string, qrMinBytes int) {
	h := &Handler{reg: reg, version: version, qrMinSize: qrMinBytes}
	root := s.Root()
	root.POST("/create-instance", h.createInstance)
	root.POST("/schedule-import", h.scheduleImport)
	root.GET("/instance/:instanceId/qr", h.instanceQR)
	root.GET("/instance/:instanceId/status", h.instanceStatus)
	root.POST("/start-import", h.startImport)
	root.GET("/session-status/:sessionId", h.sessionStatus)
	root.GET("/sessions", h.listSessions)
	root.DELETE("/session/:sessionId", h.deleteSession)
	root.GET("/health", h.health)
}

func ok(c echo.Context, data map[string]interface{}) error {
	data["success"] = true
	return c.JSON(http.StatusOK, data)
}

func fail(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

type createInstancePayload struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName"`
	WebhookURL   string `json:"webhookUrl"`
	UserID       string `json:"userId"`
}

// createInstance starts a new session. The handler returns immediately; the
// pairing chain runs detached and is observed via the polling endpoints.
func (h *Handler) createInstance(c echo.Context) error {
	var payload createInstancePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "Unable to parse request")
	}
	s, err := h.reg.Create(payload.InstanceID, payload.InstanceName, payload.WebhookURL, payload.UserID)
	if err != nil {
		if errors.Is(err, registry.ErrInstanceIDRequired) {
			return fail(c, http.StatusBadRequest, "instanceId is required")
		}
		zap.L().Error("sessionapi: create failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "Failed to create session")
	}
	return ok(c, map[string]interface{}{
		"sessionId":  s.SessionID,
		"instanceId": s.InstanceID,
		"status":     s.Status,
	})
}

type scheduleImportPayload struct {
	InstanceID string `json:"instanceId"`
}

// scheduleImport records import intent. Idempotent marker only; the import
// itself runs automatically once the session connects.
func (h *Handler) scheduleImport(c echo.Context) error {
	var payload scheduleImportPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "Unable to parse request")
	}
	h.reg.ScheduleImport(payload.InstanceID)
	return ok(c, map[string]interface{}{
		"autoImportEnabled": true,
		"scheduledAt":       time.Now(),
	})
}

func (h *Handler) instanceQR(c echo.Context) error {
	s, found := h.reg.FindByInstanceID(c.Param("instanceId"))
	if !found {
		return fail(c, http.StatusNotFound, "Instance not found")
	}
	return ok(c, map[string]interface{}{
		"status":    s.Status,
		"qrCode":    s.QRCode,
		"hasQrCode": s.QRCode != "",
		"isValidQr": qr.ValidPayload(s.QRCode, h.qrMinSize),
	})
}

func (h *Handler) instanceStatus(c echo.Context) error {
	s, found := h.reg.FindByInstanceID(c.Param("instanceId"))
	if !found {
		return fail(c, http.StatusNotFound, "Instance not found")
	}
	return ok(c, map[string]interface{}{
		"status":    s.Status,
		"progress":  s.Progress,
		"createdAt": s.CreatedAt,
	})
}

type startImportPayload struct {
	InstanceID string `json:"instanceId"`
}

func (h *Handler) startImport(c echo.Context) error {
	var payload startImportPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "Unable to parse request")
	}
	err := h.reg.StartImport(payload.InstanceID)
	switch {
	case err == nil:
		return ok(c, map[string]interface{}{"status": "importing"})
	case errors.Is(err, registry.ErrNotFound):
		return fail(c, http.StatusNotFound, "Instance not found")
	case errors.Is(err, registry.ErrNotConnected):
		return fail(c, http.StatusBadRequest, "Session is not connected")
	default:
		zap.L().Error("sessionapi: start-import failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "Failed to start import")
	}
}

func (h *Handler) sessionStatus(c echo.Context) error {
	s, found := h.reg.Get(c.Param("sessionId"))
	if !found {
		return fail(c, http.StatusNotFound, "Session not found")
	}
	return ok(c, map[string]interface{}{"session": s})
}

func (h *Handler) listSessions(c echo.Context) error {
	sessions := h.reg.List()
	return ok(c, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (h *Handler) deleteSession(c echo.Context) error {
	if !h.reg.Delete(c.Param("sessionId")) {
		return fail(c, http.StatusNotFound, "Session not found")
	}
	return ok(c, map[string]interface{}{})
}

// health is the unauthenticated liveness probe.
func (h *Handler) health(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"status":         "running",
		"activeSessions": h.reg.ActiveCount(),
		"version":        h.version,
	})
}
