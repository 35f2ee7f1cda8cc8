package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gh-media-proxy/internal/config"
	"gh-media-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy
// handler is a catch-all so it can answer plain 404s for paths outside the
// serve prefix; the operational routes are registered first and take
// precedence.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/mirror/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	e.Any("/*", proxy.Handle)
}
