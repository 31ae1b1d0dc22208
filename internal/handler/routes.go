package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bomcontrole-proxy/internal/config"
	"bomcontrole-proxy/internal/metrics"
)

// RegisterRoutes wires the internal routes and the catch-all proxy route onto
// the Echo instance. m may be nil when metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET(config.HealthPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", proxy.Handle)
	// Any only covers the methods echo knows about; anything else (PURGE,
	// SEARCH, ...) lands on the 404 handler of the catch-all node.
	e.RouteNotFound("/*", proxy.Handle)
}
