package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CobroFox/app/controllers"
	"github.com/ManuelReschke/CobroFox/app/repository"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
	"github.com/ManuelReschke/CobroFox/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the HTTP surface is wired to.
type Dependencies struct {
	Config       *config.Config
	Billing      *billing.Service
	Repositories *repository.Repositories
	// Usage records billable chatbot calls; nil disables recording.
	Usage controllers.UsageFunc
	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	Now            func() time.Time
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	// Webhooks first: they authenticate by signature, not by API key.
	setup(app, NewWebhookRouter(deps), NewMetricsRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
