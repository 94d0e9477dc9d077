package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsRouter struct {
	deps Dependencies
}

func (h MetricsRouter) InstallRouter(app *fiber.App) {
	cfg := h.deps.Config
	if cfg == nil || cfg.MetricsPassword == "" {
		log.Warn("[Router] METRICS_PASSWORD not set, /metrics is disabled")
		return
	}
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			cfg.MetricsUser: cfg.MetricsPassword,
		},
	}), adaptor.HTTPHandler(promhttp.Handler()))
}

func NewMetricsRouter(deps Dependencies) *MetricsRouter {
	return &MetricsRouter{deps: deps}
}
