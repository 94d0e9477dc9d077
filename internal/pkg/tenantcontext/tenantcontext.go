package tenantcontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CobroFox/app/models"
)

// TenantContext represents the authenticated tenant of a request
type TenantContext struct {
	TenantID      uint   `json:"tenant_id"`
	Name          string `json:"name"`
	Timezone      string `json:"timezone"`
	Authenticated bool   `json:"authenticated"`
}

// Set stores the tenant on the fiber context
func Set(c *fiber.Ctx, tenant *models.Tenant) {
	tc := TenantContext{
		TenantID:      tenant.ID,
		Name:          tenant.Name,
		Timezone:      tenant.Timezone,
		Authenticated: true,
	}
	c.Locals(KeyTenantContext, tc)
	c.Locals(KeyTenantID, tenant.ID)
	c.Locals(KeyAuthenticated, true)
}

// Get retrieves the tenant context from fiber context.
// Returns an anonymous context if none is set
func Get(c *fiber.Ctx) TenantContext {
	if tc, ok := c.Locals(KeyTenantContext).(TenantContext); ok {
		return tc
	}
	return TenantContext{}
}

// IsAuthenticated checks if the request carries a valid tenant API key
func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).Authenticated
}

// GetTenantID returns the current tenant's ID, or 0 if unauthenticated
func GetTenantID(c *fiber.Ctx) uint {
	return Get(c).TenantID
}
