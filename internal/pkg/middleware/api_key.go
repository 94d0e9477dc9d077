package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/app/repository"
	"github.com/ManuelReschke/CobroFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CobroFox/internal/pkg/tenantcontext"
)

const (
	lookupTimeout = 5 * time.Second

	keySubscription = "subscription"
)

// TenantAuthMiddleware authenticates requests carrying a tenant API key header.
func TenantAuthMiddleware(tenants repository.TenantRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), lookupTimeout)
		defer cancel()

		tenant, err := tenants.GetByAPIKeyHash(ctx, models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[TenantAuth] api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		tenantcontext.Set(c, tenant)
		return c.Next()
	}
}

// RequireSubscription rejects tenants whose plan no longer grants access.
// Past-due tenants keep access until the grace period ends.
func RequireSubscription(tenants repository.TenantRepository, now func() time.Time) fiber.Handler {
	if now == nil {
		now = time.Now
	}
	return func(c *fiber.Ctx) error {
		tenantID := tenantcontext.GetTenantID(c)
		if tenantID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), lookupTimeout)
		defer cancel()

		sub, err := tenants.LiveSubscription(ctx, tenantID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[TenantAuth] subscription lookup failed for tenant %d: %v", tenantID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription lookup failed"})
		}
		if sub == nil || !sub.HasAccess(now()) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "subscription_required", "message": "No active subscription"})
		}
		c.Locals(keySubscription, sub)
		return c.Next()
	}
}

// RequireQuota rejects the request once the plan allowance for kind is used
// up. It must run after RequireSubscription.
func RequireQuota(kind models.ResourceKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sub, ok := c.Locals(keySubscription).(*models.Subscription)
		if !ok {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "subscription_required", "message": "No active subscription"})
		}
		if !entitlements.Allows(sub, kind, 1) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "quota_exceeded", "message": "Plan limit reached for " + string(kind)})
		}
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
