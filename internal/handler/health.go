package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"gh-media-proxy/internal/config"
	"gh-media-proxy/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	svc     *service.MirrorService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, svc *service.MirrorService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, svc: svc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns mirror configuration and build information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  string(h.version),
		"base_url": h.svc.BaseURL(),
		"hosting":  string(h.cfg.MirrorSpec().Hosting),
		"prefix":   h.cfg.Mirror.Prefix,
	})
}
