package handler

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cecilefy-proxy/internal/config"
	"cecilefy-proxy/internal/metrics"
	"cecilefy-proxy/internal/web"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is only exposed when metrics are enabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) error {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)
	e.GET("/proxy", proxy.Handle)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	assets, err := web.FS(cfg.Static.Root)
	if err != nil {
		return fmt.Errorf("static files: %w", err)
	}
	e.StaticFS("/", assets)

	return nil
}
