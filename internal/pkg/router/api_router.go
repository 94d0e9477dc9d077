package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/CobroFox/app/controllers"
	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(h.limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	repos := h.deps.Repositories
	v1 := api.Group("/v1", middleware.TenantAuthMiddleware(repos.Tenant))

	tenant := controllers.NewTenantController(repos.Tenant, repos.Credential)
	v1.Get("/tenant", tenant.HandleGetTenant)
	v1.Put("/tenant", tenant.HandleUpdateTenant)
	v1.Put("/tenant/credentials/:gateway", tenant.HandleUpsertCredential)

	// Collection features need a plan that still grants access.
	paid := middleware.RequireSubscription(repos.Tenant, h.deps.Now)

	links := controllers.NewPaymentLinkController(h.deps.Billing)
	v1.Post("/debts/:id/payment-link", paid, links.HandleCreatePaymentLink)

	chatbot := controllers.NewChatbotController(repos.Debt, h.deps.Billing, h.deps.Usage)
	v1.Post("/chatbot/fulfillment", paid, middleware.RequireQuota(models.ResourceAPI), chatbot.HandleFulfillment)
}

func (h ApiRouter) limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Storage: h.deps.LimiterStorage,
		// Integrations share NAT gateways, so the key takes precedence over the address.
		KeyGenerator: func(c *fiber.Ctx) string {
			if key := c.Get("X-API-Key"); key != "" {
				return "key:" + models.HashAPIKey(key)
			}
			if auth := c.Get("Authorization"); auth != "" {
				return "key:" + models.HashAPIKey(auth)
			}
			return "ip:" + controllers.GetClientIP(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	}
	if h.deps.Config != nil {
		cfg.Max = h.deps.Config.APIRateLimit
		cfg.Expiration = h.deps.Config.APIRateWindow
	}
	return cfg
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
