// Package webserver hosts the HTTP control API: a thin request/response
// layer over the session registry.
package webserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/walinkd/config"
	"go.uber.org/zap"
)

const healthPath = "/health"

type WebServer struct {
	cfg  *config.AppConfig
	root *echo.Echo
}

func New(cfg *config.AppConfig) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	// CORS is enforced against the explicit allow-list only. The reference
	// implementation fell back to echoing any origin when the list missed;
	// that permissive branch is intentionally not replicated here.
	if len(cfg.Web.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Web.AllowedOrigins,
		}))
	} else if cfg.Web.Debug {
		e.Use(middleware.CORS())
	}

	// Shared-secret bearer auth on every route except health.
	e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == healthPath
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			return key == cfg.Web.Secret, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "Unauthorized",
			})
		},
	}))

	return &WebServer{cfg: cfg, root: e}
}

// Root exposes the echo engine for route registration.
func (s *WebServer) Root() *echo.Echo {
	return s.root
}

func (s *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	zap.L().Info("webserver: listening", zap.String("addr", addr))
	return s.root.Start(addr)
}

func (s *WebServer) Shutdown(ctx context.Context) error {
	return s.root.Shutdown(ctx)
}
