package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CobroFox/app/controllers"
)

type WebhookRouter struct {
	deps Dependencies
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := controllers.NewWebhookController(h.deps.Billing)
	app.Post("/webhooks/:tenantId/:gateway", webhooks.HandleGatewayWebhook)
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}
